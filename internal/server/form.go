package server

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/report"
)

type formField struct {
	Name    string
	Options []string
	Value   string
	Numeric bool
	Range   features.Range
}

type formPage struct {
	Fields []formField
	Error  string
}

type resultRow struct {
	Feature string
	Value   string
}

type resultPage struct {
	Estimate      string
	RangeLow      string
	RangeHigh     string
	Confidence    string
	Contributions []resultRow
	Unknown       []string
	ReportURL     string
	ModelVersion  string
	Transaction   []resultRow
}

var templateFuncs = template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) },
}

var (
	formTemplate   = template.Must(template.New("form").Funcs(templateFuncs).Parse(formHTML))
	resultTemplate = template.Must(template.New("result").Funcs(templateFuncs).Parse(resultHTML))
)

// fields builds the form inputs, pre-filled from raw.
func (s *Server) fields(raw features.RawTransaction) []formField {
	schema := s.predictor.Schema()
	var out []formField
	for _, col := range features.CategoricalColumns() {
		v, _ := raw.Categorical(col)
		out = append(out, formField{Name: col, Options: schema.Categories(col), Value: v})
	}
	for _, col := range features.NumericColumns() {
		r, _ := s.cfg.Bounds.For(col)
		v, _ := raw.Numeric(col)
		out = append(out, formField{Name: col, Numeric: true, Range: r, Value: strconv.FormatFloat(v, 'g', -1, 64)})
	}
	return out
}

func (s *Server) defaultTransaction() features.RawTransaction {
	raw := s.cfg.Bounds.Defaults()
	schema := s.predictor.Schema()
	for _, col := range features.CategoricalColumns() {
		if opts := schema.Categories(col); len(opts) > 0 {
			raw.SetCategorical(col, opts[0])
		}
	}
	return raw
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.renderForm(w, http.StatusOK, s.defaultTransaction(), "")
}

func (s *Server) renderForm(w http.ResponseWriter, status int, raw features.RawTransaction, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := formTemplate.Execute(w, formPage{Fields: s.fields(raw), Error: msg}); err != nil {
		log.Error().Err(err).Msg("failed to render form")
	}
}

// parseForm reads a form submission. Every numeric field is required.
func (s *Server) parseForm(r *http.Request) (features.RawTransaction, error) {
	raw := s.defaultTransaction()
	if err := r.ParseForm(); err != nil {
		return raw, badInput("invalid form: %v", err)
	}

	for _, col := range features.CategoricalColumns() {
		raw.SetCategorical(col, strings.TrimSpace(r.PostForm.Get(col)))
	}
	for _, col := range features.NumericColumns() {
		v := strings.TrimSpace(r.PostForm.Get(col))
		if v == "" {
			return raw, badInput("%s is required", col)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return raw, badInput("%s: %q is not a number", col, v)
		}
		raw.SetNumeric(col, f)
	}
	return raw, s.cfg.Bounds.Validate(raw)
}

func (s *Server) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	raw, err := s.parseForm(r)
	if err != nil {
		s.renderForm(w, http.StatusBadRequest, raw, err.Error())
		return
	}

	res, err := s.predict(r.Context(), raw, "form")
	if err != nil {
		status, hint := statusFor(err)
		msg := "Prediction failed: " + err.Error()
		if hint != "" {
			msg += ". " + hint
		}
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("form prediction failed")
		}
		s.renderForm(w, status, raw, msg)
		return
	}

	page := resultPage{
		Estimate:     report.FormatCurrency(res.Estimate),
		RangeLow:     report.FormatCurrency(res.RangeLow),
		RangeHigh:    report.FormatCurrency(res.RangeHigh),
		Unknown:      res.UnknownCategories,
		ModelVersion: s.predictor.Metadata().Version,
	}
	if res.Confidence != nil {
		page.Confidence = report.FormatPercent(*res.Confidence)
	}
	for _, c := range res.TopContributions(s.cfg.TopContributions) {
		page.Contributions = append(page.Contributions, resultRow{Feature: c.Feature, Value: report.FormatSigned(c.Value)})
	}
	for _, col := range features.CategoricalColumns() {
		v, _ := raw.Categorical(col)
		page.Transaction = append(page.Transaction, resultRow{Feature: col, Value: v})
	}
	for _, col := range features.NumericColumns() {
		v, _ := raw.Numeric(col)
		page.Transaction = append(page.Transaction, resultRow{Feature: col, Value: strconv.FormatFloat(v, 'g', -1, 64)})
	}
	if s.store != nil {
		page.ReportURL = reportURL(res.ID.String())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resultTemplate.Execute(w, page); err != nil {
		log.Error().Err(err).Msg("failed to render result")
	}
}

const pageStyle = `
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 760px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #2f9e44 0%, #1c7ed6 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; text-align: center; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); margin-bottom: 20px; }
        label { display: block; font-weight: 600; margin-top: 12px; color: #444; }
        select, input { width: 100%; padding: 8px; margin-top: 4px; box-sizing: border-box; }
        button { margin-top: 20px; padding: 10px 24px; background: #1c7ed6; color: white; border: none; border-radius: 6px; font-size: 1em; cursor: pointer; }
        .error { background: #ffe3e3; color: #c92a2a; padding: 12px; border-radius: 6px; }
        .warning { background: #fff3bf; color: #8f5b00; padding: 12px; border-radius: 6px; }
        .estimate { font-size: 2.2em; font-weight: bold; text-align: center; }
        table { width: 100%; border-collapse: collapse; }
        td { padding: 6px 8px; border-bottom: 1px solid #eee; }
        td.num { text-align: right; font-family: monospace; }
        .hint { color: #868e96; font-size: 0.85em; }
    </style>`

const formHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Supermarket Sales Predictor</title>
    <meta charset="UTF-8">` + pageStyle + `
</head>
<body>
<div class="container">
    <div class="header"><h1>Supermarket Sales Predictor</h1></div>
    {{if .Error}}<div class="card error">{{.Error}}</div>{{end}}
    <form class="card" method="POST" action="/predict">
        {{range .Fields}}
        <label for="{{.Name}}">{{.Name}}</label>
        {{if .Numeric}}
        <input type="number" id="{{.Name}}" name="{{.Name}}" value="{{.Value}}" min="{{num .Range.Min}}" max="{{num .Range.Max}}" step="{{if .Range.Step}}{{num .Range.Step}}{{else}}any{{end}}" required>
        <div class="hint">{{num .Range.Min}} to {{num .Range.Max}}</div>
        {{else}}
        <select id="{{.Name}}" name="{{.Name}}">
            {{$v := .Value}}{{range .Options}}<option value="{{.}}"{{if eq . $v}} selected{{end}}>{{.}}</option>{{end}}
        </select>
        {{end}}
        {{end}}
        <button type="submit">Predict Total Sales</button>
    </form>
    <p class="hint"><a href="/dashboard">Analytics dashboard</a></p>
</div>
</body>
</html>
`

const resultHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Prediction - Supermarket Sales Predictor</title>
    <meta charset="UTF-8">` + pageStyle + `
</head>
<body>
<div class="container">
    <div class="header"><h1>Predicted Total Sales</h1></div>
    <div class="card">
        <div class="estimate">{{.Estimate}}</div>
        <p style="text-align:center">Rough range: {{.RangeLow}} to {{.RangeHigh}}</p>
        {{if .Confidence}}<p style="text-align:center">Model Confidence: {{.Confidence}}</p>{{end}}
        <p class="hint" style="text-align:center">Model version {{.ModelVersion}}</p>
    </div>
    {{if .Unknown}}
    <div class="card warning">Unseen values for {{range $i, $f := .Unknown}}{{if $i}}, {{end}}{{$f}}{{end}} were encoded as all-zero indicators; the estimate may be less reliable.</div>
    {{end}}
    {{if .Contributions}}
    <div class="card">
        <h3>Top Contributions</h3>
        <table>{{range .Contributions}}<tr><td>{{.Feature}}</td><td class="num">{{.Value}}</td></tr>{{end}}</table>
    </div>
    {{end}}
    <div class="card">
        <h3>Transaction</h3>
        <table>{{range .Transaction}}<tr><td>{{.Feature}}</td><td class="num">{{.Value}}</td></tr>{{end}}</table>
    </div>
    <p>{{if .ReportURL}}<a href="{{.ReportURL}}">Download PDF report</a> | {{end}}<a href="/">Predict another</a></p>
</div>
</body>
</html>
`
