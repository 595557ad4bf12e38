// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

var responseValidate *validator.Validate

func init() {
	responseValidate = validator.New()
	if err := responseValidate.RegisterValidation("reasonkind", validateReasonKind); err != nil {
		panic(fmt.Sprintf("register reasonkind validation: %v", err))
	}
}

func validateReasonKind(fl validator.FieldLevel) bool {
	return ReasonKind(fl.Field().String()).Valid()
}

// modelResponse mirrors the JSON contract the prompt demands from the
// model. Extra keys are tolerated; missing or malformed values are not.
type modelResponse struct {
	Changes []modelChange `json:"changes" validate:"required,dive"`
}

type modelChange struct {
	DiffID     int    `json:"diff_id" validate:"min=1"`
	ReasonType string `json:"reason_type" validate:"required,reasonkind"`
	ReasonText string `json:"reason_text" validate:"required"`
}

// DecodeResponse parses the model's JSON body and joins it with the
// change candidates it was asked about.
//
// # Description
//
//	The body must decode into the {"changes": [...]} contract and pass
//	structural validation: every entry needs a known reason kind, a
//	non-empty explanation, and a diff id inside the candidate range, with
//	no duplicates and no candidate left unexplained. All problems are
//	collected before failing so one bad response reports every violation
//	at once.
//
// # Outputs
//   - []Change in candidate order, carrying both the diff fragments and
//     the model's classification.
//   - *SchemaError listing every violation, or wrapping the JSON decode
//     error when the body was not JSON at all.
func DecodeResponse(body string, candidates []Candidate) ([]Change, error) {
	var resp modelResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &SchemaError{Err: fmt.Errorf("decode response body: %w", err)}
	}

	var violations []string
	if err := responseValidate.Struct(&resp); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, &SchemaError{Err: err}
		}
		for _, ve := range verrs {
			violations = append(violations, describeViolation(ve))
		}
	}

	byID := make(map[int]modelChange, len(resp.Changes))
	for _, mc := range resp.Changes {
		if _, dup := byID[mc.DiffID]; dup {
			violations = append(violations,
				fmt.Sprintf("duplicate entry for change %d", mc.DiffID))
			continue
		}
		byID[mc.DiffID] = mc
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if id < 1 || id > len(candidates) {
			violations = append(violations,
				fmt.Sprintf("change %d is outside the candidate range 1..%d", id, len(candidates)))
		}
	}

	changes := make([]Change, 0, len(candidates))
	for _, c := range candidates {
		mc, ok := byID[c.ID]
		if !ok {
			violations = append(violations,
				fmt.Sprintf("no explanation for change %d", c.ID))
			continue
		}
		changes = append(changes, Change{
			ID:          c.ID,
			Location:    c.Location,
			Removed:     c.Removed,
			Added:       c.Added,
			Kind:        ReasonKind(mc.ReasonType),
			Description: mc.ReasonText,
		})
	}

	if len(violations) > 0 {
		return nil, &SchemaError{Violations: violations}
	}
	return changes, nil
}

func describeViolation(ve validator.FieldError) string {
	switch ve.Tag() {
	case "reasonkind":
		return fmt.Sprintf("%s: unknown reason kind %q", ve.Namespace(), ve.Value())
	case "required":
		return fmt.Sprintf("%s: missing", ve.Namespace())
	case "min":
		return fmt.Sprintf("%s: must be at least %s", ve.Namespace(), ve.Param())
	default:
		return fmt.Sprintf("%s: failed %q validation", ve.Namespace(), ve.Tag())
	}
}
