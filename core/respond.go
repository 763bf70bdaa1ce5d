package core

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/elmwood/oidcop/message"
)

// formPostTemplate is the auto-submitting form used for
// response_mode=form_post. Rendering through html/template entity-encodes
// the action URL and every field name and value.
//
// https://openid.net/specs/oauth-v2-form-post-response-mode-1_0.html
var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Working...</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

type formPostField struct {
	Name  string
	Value string
}

type formPostData struct {
	Action string
	Fields []formPostField
}

// responseModeFor picks the mode used to return an authorization
// response: the requested response_mode when recognized, otherwise
// fragment for any flow issuing tokens from the front channel and query
// for the plain code flow.
func responseModeFor(m *message.Message) string {
	switch m.ResponseMode() {
	case message.ResponseModeQuery, message.ResponseModeFragment, message.ResponseModeFormPost:
		return m.ResponseMode()
	}
	if m.HasResponseType(message.ResponseTypeToken) || m.HasResponseType(message.ResponseTypeIDToken) {
		return message.ResponseModeFragment
	}
	return message.ResponseModeQuery
}

// sendResponse returns the parameters to the client at redirectURI using
// the given response mode. The redirect_uri parameter itself is never
// echoed back. An unrecognized mode falls back to query.
func sendResponse(w http.ResponseWriter, r *http.Request, redirectURI, mode string, params *message.Message) error {
	redir, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("parsing redirect URI %q: %w", redirectURI, err)
	}

	switch mode {
	case message.ResponseModeFragment:
		redir.Fragment = ""
		var frag []string
		params.Each(func(name, value string) {
			frag = append(frag, url.QueryEscape(name)+"="+url.QueryEscape(value))
		})
		target := redir.String() + "#" + strings.Join(frag, "&")
		http.Redirect(w, r, target, http.StatusFound)

	case message.ResponseModeFormPost:
		data := formPostData{Action: redir.String()}
		params.Each(func(name, value string) {
			data.Fields = append(data.Fields, formPostField{Name: name, Value: value})
		})
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		setNoCacheHeaders(w)
		if err := formPostTemplate.Execute(w, data); err != nil {
			return fmt.Errorf("rendering form_post response: %w", err)
		}

	default:
		q := redir.Query()
		params.Each(func(name, value string) {
			q.Set(name, value)
		})
		redir.RawQuery = q.Encode()
		http.Redirect(w, r, redir.String(), http.StatusFound)
	}

	return nil
}
