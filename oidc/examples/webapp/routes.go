// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/hashicorp/cap-openid/oidc"
	"github.com/hashicorp/cap-openid/oidc/callback"
	"github.com/hashicorp/cap-openid/oidc/middleware"
)

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>cap-openid webapp</title></head>
<body>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Identity}}
<p>Signed in as {{.Identity.Username}} ({{range $i, $r := .Identity.Roles}}{{if $i}}, {{end}}{{$r}}{{end}})</p>
<p>API bearer token:</p>
<pre>{{.Token}}</pre>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{else}}
<p><a href="/login?_target_path=%2F">Sign in</a></p>
{{end}}
</body>
</html>
`))

type homePage struct {
	Error    string
	Identity *oidc.AuthenticatedIdentity
	Token    string
}

func homeHandler(sessions callback.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		s, err := sessions.Load(ctx, req)
		if err != nil {
			http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
			return
		}
		page := homePage{Error: s.Error}
		if identity, ok := middleware.IdentityFromContext(ctx); ok {
			page.Identity = identity
			page.Token = identity.BearerCredential()
		}
		if s.Error != "" {
			// shown once
			s.Error = ""
			if err := sessions.Save(ctx, w, s); err != nil {
				http.Error(w, oidc.MsgFailed, http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = homeTmpl.Execute(w, page)
	}
}

func logoutHandler(sessions callback.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, err := sessions.Load(req.Context(), req)
		if err == nil {
			_ = sessions.Delete(req.Context(), w, s)
		}
		http.Redirect(w, req, "/", http.StatusSeeOther)
	}
}

type meResponse struct {
	Username string    `json:"username"`
	Zone     string    `json:"zone"`
	Roles    []string  `json:"roles"`
	Expires  time.Time `json:"expires"`
}

func meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		identity, ok := middleware.IdentityFromContext(req.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meResponse{
			Username: identity.Username,
			Zone:     identity.Zone,
			Roles:    identity.Roles,
			Expires:  identity.Token.Expiry(),
		})
	}
}
