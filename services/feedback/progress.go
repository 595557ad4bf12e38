// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"embed"
	"html/template"
)

//go:embed templates/progress.html.tmpl
var templateFS embed.FS

var progressTmpl = template.Must(template.ParseFS(templateFS, "templates/progress.html.tmpl"))

// progressData is the template's view of a domain mid-run.
type progressData struct {
	Domain     string
	Name       string
	Run        int
	Stage      string
	SocketPath string
	FinalPath  string
}

// errorShell is the page errorPage fills in: status code, status text,
// escaped message, optional back link.
const errorShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%[1]d %[2]s</title>
<style>
  body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #f4f6f7; margin: 0; padding: 24px; color: #2c3e50; }
  .container { max-width: 720px; margin: 48px auto; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.08); padding: 32px; }
  h1 { margin-top: 0; font-size: 1.4em; color: #c0392b; }
  p { line-height: 1.5; }
  a { color: #2980b9; }
</style>
</head>
<body>
<div class="container">
  <h1>%[1]d %[2]s</h1>
  <p>%[3]s</p>
  %[4]s
</div>
</body>
</html>
`
