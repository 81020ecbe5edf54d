package httpapi

import (
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type cookieConfig struct {
	name   string
	secure bool
}

func (c cookieConfig) set(w http.ResponseWriter, info goIdentity.SessionInfo) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    info.SessionID,
		Path:     "/",
		Expires:  info.ExpiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
