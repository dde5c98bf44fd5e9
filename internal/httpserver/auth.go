package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const contextKeyUserID = "session_user_id"

// sessionClaims is the signed session payload the auth layer issues. The
// ledger only needs the subject; everything else rides along for handlers
// that want to display it.
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// sessionMiddleware resolves the authenticated user id from a bearer header
// or the session cookie and aborts unauthenticated requests.
func sessionMiddleware(cfg Config) gin.HandlerFunc {
	keyFn := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(cfg.SessionSigningKey), nil
	}
	return func(ctx *gin.Context) {
		raw := bearerToken(ctx.GetHeader("Authorization"))
		if raw == "" {
			if cookie, err := ctx.Cookie(cfg.SessionCookieName); err == nil {
				raw = cookie
			}
		}
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims := &sessionClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, keyFn,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.SessionIssuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid || claims.Subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(contextKeyUserID, claims.Subject)
		ctx.Next()
	}
}

func sessionUserID(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return ""
	}
	userID, _ := value.(string)
	return userID
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
