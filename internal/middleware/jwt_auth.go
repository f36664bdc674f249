package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"modelql/internal/logging"
	"modelql/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// JWTAuthConfig controls bearer token validation behavior.
type JWTAuthConfig struct {
	Enabled       bool
	Algorithm     string // HS256 or RS256
	Secret        string // HMAC secret for HS256
	PublicKeyFile string // PEM-encoded RSA public key for RS256
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
}

type authContextKey struct{}

// AuthContext carries validated JWT claims.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Claims   map[string]interface{}
}

// WithAuthContext attaches validated auth information to a request context.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return AuthContext{}, false
	}
	auth, ok := value.(AuthContext)
	return auth, ok
}

// JWTAuthMiddleware validates Bearer tokens when enabled.
// Optional securityMetrics parameter enables security monitoring; pass nil to disable.
func JWTAuthMiddleware(cfg JWTAuthConfig, logger *logging.Logger, securityMetrics ...*observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	// Extract optional security metrics
	var metrics *observability.SecurityMetrics
	if len(securityMetrics) > 0 {
		metrics = securityMetrics[0]
	}

	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	keyFunc, err := buildKeyFunc(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path

			if metrics != nil {
				metrics.RecordAuthAttempt(r.Context(), endpoint)
			}

			tokenString := bearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				if metrics != nil {
					metrics.RecordAuthFailure(r.Context(), endpoint, "missing_token")
					metrics.RecordUnauthorizedAttempt(r.Context(), endpoint, "missing_token")
				}
				if logger != nil {
					reqLogger := logging.FromContext(r.Context())
					reqLogger.Warn("authentication failed: missing bearer token",
						slog.String("endpoint", endpoint),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, keyFunc)
			if err != nil || !token.Valid {
				if metrics != nil {
					metrics.RecordAuthFailure(r.Context(), endpoint, "token_verification_failed")
					metrics.RecordTokenValidationError(r.Context(), "verification_failed")
					metrics.RecordUnauthorizedAttempt(r.Context(), endpoint, "invalid_token")
				}
				if logger != nil {
					reqLogger := logging.FromContext(r.Context())
					reqLogger.Warn("jwt validation failed",
						slog.String("error", errString(err)),
						slog.String("endpoint", endpoint),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				writeUnauthorized(w, "invalid token")
				return
			}

			subject, _ := claims.GetSubject()
			issuer, _ := claims.GetIssuer()
			aud := extractAudience(claims)

			if metrics != nil {
				metrics.RecordAuthSuccess(r.Context(), endpoint, issuer)
			}

			if logger != nil {
				reqLogger := logging.FromContext(r.Context())
				reqLogger.Debug("authentication successful",
					slog.String("subject", subject),
					slog.String("issuer", issuer),
					slog.String("endpoint", endpoint),
				)
			}

			// Add trace attributes for authenticated user
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", subject),
					attribute.Bool("auth.authenticated", true),
				)
				if issuer != "" {
					span.SetAttributes(attribute.String("auth.issuer", issuer))
				}
				if len(aud) > 0 {
					span.SetAttributes(attribute.StringSlice("auth.audience", aud))
				}
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, AuthContext{
				Subject:  subject,
				Issuer:   issuer,
				Audience: aud,
				Claims:   claims,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func buildKeyFunc(cfg JWTAuthConfig) (jwt.Keyfunc, error) {
	switch cfg.Algorithm {
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("jwt auth enabled but no HMAC secret configured")
		}
		secret := []byte(cfg.Secret)
		return func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, nil
	case "RS256":
		if cfg.PublicKeyFile == "" {
			return nil, errors.New("jwt auth enabled but no RSA public key configured")
		}
		pemBytes, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read RSA public key file: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		return func(token *jwt.Token) (interface{}, error) {
			return key, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
}

func bearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":"%s"}`, message)
}

func errString(err error) string {
	if err == nil {
		return "token marked invalid"
	}
	return err.Error()
}

func extractAudience(claims jwt.MapClaims) []string {
	raw, ok := claims["aud"]
	if !ok {
		return nil
	}

	switch val := raw.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}
