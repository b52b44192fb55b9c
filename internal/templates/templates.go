// Package templates renders the browser pages of the approval flow
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed html/*.html
var content embed.FS

// Templates manages the HTML templates
type Templates struct {
	verify   *template.Template
	approve  *template.Template
	complete *template.Template
	error    *template.Template
}

// TemplateError reports a page that could not be rendered
type TemplateError struct {
	Page  string
	Cause error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("rendering %s page: %v", e.Page, e.Cause)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

// LoadTemplates loads and parses all HTML templates
func LoadTemplates() (*Templates, error) {
	t := &Templates{}
	var err error

	if t.verify, err = parse("verify"); err != nil {
		return nil, err
	}
	if t.approve, err = parse("approve"); err != nil {
		return nil, err
	}
	if t.complete, err = parse("complete"); err != nil {
		return nil, err
	}
	if t.error, err = parse("error"); err != nil {
		return nil, err
	}

	return t, nil
}

// parse loads a page on top of the shared layout; the page's blocks win
func parse(page string) (*template.Template, error) {
	tmpl, err := template.ParseFS(content, "html/layout.html", "html/"+page+".html")
	if err != nil {
		return nil, &TemplateError{Page: page, Cause: err}
	}
	return tmpl, nil
}

// VerifyData holds data for the code entry page
type VerifyData struct {
	VerificationURI string
	PrefilledCode   string
	UserName        string
	LogoutURI       string
	CSRFToken       string
	Error           string
}

// ApproveData holds data for the approval page
type ApproveData struct {
	UserCode         string
	ClientID         string
	Scope            string
	UserName         string
	CSRFToken        string
	ApproveURI       string
	DenyURI          string
	ExpiresInMinutes int
}

// CompleteData holds data for the page shown after a decision
type CompleteData struct {
	Title   string
	Message string
}

// ErrorData holds data for the error page
type ErrorData struct {
	Title    string
	Message  string
	RetryURI string
}

// RenderVerify renders the code entry page
func (t *Templates) RenderVerify(w http.ResponseWriter, status int, data VerifyData) error {
	return render(w, status, "verify", t.verify, data)
}

// RenderApprove renders the approval page
func (t *Templates) RenderApprove(w http.ResponseWriter, status int, data ApproveData) error {
	return render(w, status, "approve", t.approve, data)
}

// RenderComplete renders the completion page
func (t *Templates) RenderComplete(w http.ResponseWriter, status int, data CompleteData) error {
	return render(w, status, "complete", t.complete, data)
}

// RenderError renders the error page
func (t *Templates) RenderError(w http.ResponseWriter, status int, data ErrorData) error {
	return render(w, status, "error", t.error, data)
}

// render executes into a buffer first so a failing template never leaves a
// half written page behind a 200 status
func render(w http.ResponseWriter, status int, page string, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return &TemplateError{Page: page, Cause: err}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
