package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// writeError renders err as an OAuth error response. Errors that are not a
// *server.Error become a generic server_error; internal causes are logged,
// never sent.
//
// A client that authenticated with HTTP Basic and failed gets a Basic
// challenge (RFC 6749 section 5.2); every other 401 gets a Bearer challenge.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	oerr := server.AsError(err)
	if oerr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed",
			"path", r.URL.Path,
			"error", err)
	}

	challenge := ""
	if oerr.Status == http.StatusUnauthorized {
		challenge = h.formatWWWAuthenticate(oerr.Code, oerr.Description)
		if _, _, basic := r.BasicAuth(); basic && oerr.Code == server.ErrorCodeInvalidClient {
			challenge = fmt.Sprintf(`Basic realm="%s"`, quoteEscape(h.server.Config.Issuer))
		}
	}
	h.writeOAuthErrorChallenge(w, challenge, oerr.Code, oerr.Description, oerr.Status)
}

// writeOAuthError writes an error body; a 401 carries a Bearer challenge
func (h *Handler) writeOAuthError(w http.ResponseWriter, code, description string, status int) {
	challenge := ""
	if status == http.StatusUnauthorized {
		challenge = h.formatWWWAuthenticate(code, description)
	}
	h.writeOAuthErrorChallenge(w, challenge, code, description, status)
}

func (h *Handler) writeOAuthErrorChallenge(w http.ResponseWriter, challenge, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per RFC 6750
// and RFC 9728, pointing clients at the protected resource metadata.
//
//	Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource",
//	       error="invalid_token",
//	       error_description="Token has expired"
func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	params := []string{
		fmt.Sprintf(`resource_metadata="%s"`, h.server.Config.ProtectedResourceMetadataEndpoint()),
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, quoteEscape(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errorDesc)))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes backslashes first, then quotes (RFC 7230 quoted-string)
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// isClientError reports whether err is an OAuth error other than server_error
func isClientError(err error) bool {
	var oerr *server.Error
	return errors.As(err, &oerr) && oerr.Status < http.StatusInternalServerError
}
