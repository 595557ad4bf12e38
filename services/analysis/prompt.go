// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// systemPrompt frames every analysis request.
const systemPrompt = "You are an expert business analyst specializing in requirement evolution."

// defaultPromptBudget caps how many characters of each document version
// are embedded in the prompt before truncation kicks in.
const defaultPromptBudget = 24000

// kindDefinitions is the taxonomy as presented to the model. The order
// matches Kinds so prompts stay byte-stable across runs.
var kindDefinitions = []struct {
	Kind       ReasonKind
	Definition string
}{
	{ReasonContradiction, "the new text reverses or conflicts with what the old text required"},
	{ReasonMistake, "the change corrects an error in the old text, such as a typo, a wrong value, or a wrong reference"},
	{ReasonInclusion, "the change adds a requirement or detail that was absent before"},
	{ReasonSummarization, "the change condenses existing content without changing its intent"},
	{ReasonDeletion, "the change removes a requirement or detail"},
	{ReasonClarification, "the change rewords for precision without changing the intent"},
	{ReasonDemonstration, "the change adds an example or illustration"},
	{ReasonMeaning, "the change alters what an existing requirement means"},
	{ReasonOther, "none of the other categories fits"},
}

// BuildPrompt assembles the user message for one analysis request.
//
// The message carries both document versions (clamped to budget
// characters each), the numbered change candidates, the reason taxonomy,
// and the JSON response contract. When feedback is non-empty, a
// correction block is appended so the model adjusts its explanations
// instead of repeating the rejected ones.
func BuildPrompt(oldText, newText string, candidates []Candidate, feedback string, budget int) string {
	if budget <= 0 {
		budget = defaultPromptBudget
	}

	var b strings.Builder

	b.WriteString("Two versions of a requirements document are shown below, ")
	b.WriteString("followed by the numbered changes between them.\n\n")

	b.WriteString("--- PREVIOUS VERSION ---\n")
	b.WriteString(clampDocument(oldText, budget))
	b.WriteString("\n--- CURRENT VERSION ---\n")
	b.WriteString(clampDocument(newText, budget))

	b.WriteString("\n--- CHANGES ---\n")
	b.WriteString(FormatCandidates(candidates))

	b.WriteString("\nFor every numbered change, classify the reason the text changed ")
	b.WriteString("using exactly one of these categories:\n")
	for _, kd := range kindDefinitions {
		fmt.Fprintf(&b, "- %s: %s\n", kd.Kind, kd.Definition)
	}

	b.WriteString("\nRespond with a single JSON object of the form ")
	b.WriteString(`{"changes": [{"diff_id": <number>, "reason_type": "<category>", "reason_text": "<one or two sentences explaining the change>"}]}`)
	b.WriteString(". Include exactly one entry per numbered change, keep diff_id values ")
	b.WriteString("matching the numbering above, and do not add any other keys.\n")

	if feedback != "" {
		b.WriteString("\nIMPORTANT: The user rejected a previous analysis with the following feedback/correction:\n")
		fmt.Fprintf(&b, "'%s'\n", feedback)
		b.WriteString("Please adjust your analysis to respect this feedback.\n")
	}

	return b.String()
}

// clampDocument returns text unchanged when it fits the budget, otherwise
// the largest leading chunk that splits on natural boundaries, marked as
// truncated. The recursive splitter prefers paragraph and line breaks
// over mid-word cuts.
func clampDocument(text string, budget int) string {
	if len(text) <= budget {
		return text
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(budget),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return text[:budget] + "\n...[truncated]"
	}
	return chunks[0] + "\n...[truncated]"
}
