package layout

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`{`, `\{`,
	`}`, `\}`,
	`$`, `\$`,
	`&`, `\&`,
	`#`, `\#`,
	`%`, `\%`,
	`_`, `\_`,
	`^`, `\^{}`,
	`~`, `\~{}`,
)

func escapeLaTeX(s string) string {
	return latexEscaper.Replace(strings.TrimSpace(s))
}

func environment(q models.Question) string {
	if q.IsMultiple() {
		return "questionmult"
	}
	return "question"
}

func questionName(q models.Question) string {
	return models.QuestionName(q.ID)
}

var sourceTemplate = template.Must(template.New("questionnaire").Funcs(template.FuncMap{
	"tex":  escapeLaTeX,
	"env":  environment,
	"name": questionName,
}).Parse(`\documentclass[a4paper]{article}
\usepackage[utf8]{inputenc}
\usepackage[T1]{fontenc}
\usepackage[francais,bloc]{automultiplechoice}
\usepackage{multicol}

\geometry{hmargin=2cm,headheight=2cm}
\AMCrandomseed{1234567}
\AMCboxDimensions{shape=oval}

\begin{document}

\onecopy{1}{

\noindent{\bf {{if .Title}}{{tex .Title}}{{else}}QCM{{end}}} \hfill

\begin{center}
\namefield{\fbox{\begin{minipage}{.6\linewidth}
Nom et pr\'enom :\\[.5cm]\dotfill\\[.5cm]\dotfill
\end{minipage}}}
\end{center}

\AMCcodeGridInt[h]{etu}{3}

\begin{center}\em
Noircissez complètement les cases correspondant aux bonnes r\'eponses.
\end{center}

\begin{multicols}{2}
{{range .Questions}}
\begin{ {{- env .}}}{ {{- name .}}}
  {{tex .Text}}
  \begin{choices}[o]
{{- range .Choices}}
    {{if .Correct}}\correctchoice{{else}}\wrongchoice{{end}}{ {{- tex .Text}}}
{{- end}}
  \end{choices}
\end{ {{- env .}}}
{{end}}
\end{multicols}

\AMCcleardoublepage
}

\end{document}
`))

// RenderSource renders the exam source for a question set. Questions keep
// their order and choices are never shuffled, so zone n of a question is
// choice n.
func RenderSource(qs *models.QuestionSet) ([]byte, error) {
	if qs == nil || len(qs.Questions) == 0 {
		return nil, models.ErrQuestionSetMissing
	}
	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, qs); err != nil {
		return nil, fmt.Errorf("failed to render exam source: %w", err)
	}
	return buf.Bytes(), nil
}
