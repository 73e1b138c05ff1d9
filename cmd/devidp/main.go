// devidp — издатель тестовых токенов арендаторов для локальной разработки.
// Генерирует RSA ключ при старте, отдаёт JWKS по GET /jwks
// и подписывает токен арендатора по POST /token.
//
// Не для production: любой клиент получает токен любого арендатора.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/cryptvault/internal/api/errors"
)

const (
	keyID      = "devidp-1"
	defaultTTL = time.Hour
	maxTTL     = 24 * time.Hour
)

// jwk — ключ в JWKS (RFC 7517).
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type tokenRequest struct {
	// Tenant — id арендатора, попадает в sub
	Tenant     string `json:"tenant"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issuer хранит ключ и кэшированный JWKS.
type issuer struct {
	key    *rsa.PrivateKey
	name   string
	jwks   []byte
	now    func() time.Time
	logger *slog.Logger
}

func newIssuer(key *rsa.PrivateKey, name string, logger *slog.Logger) (*issuer, error) {
	jwks, err := json.Marshal(map[string][]jwk{"keys": {{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		return nil, err
	}
	return &issuer{key: key, name: name, jwks: jwks, now: time.Now, logger: logger}, nil
}

func (is *issuer) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", is.handleJWKS)
	r.Post("/token", is.handleToken)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (is *issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(is.jwks)
}

func (is *issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON: "+err.Error())
		return
	}
	if req.Tenant == "" {
		apierrors.ValidationError(w, "Поле tenant обязательно")
		return
	}

	ttl := defaultTTL
	if req.TTLSeconds > 0 {
		ttl = min(time.Duration(req.TTLSeconds)*time.Second, maxTTL)
	}

	now := is.now()
	expires := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   req.Tenant,
		Issuer:    is.name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(is.key)
	if err != nil {
		is.logger.Error("Ошибка подписи JWT", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка генерации токена")
		return
	}

	is.logger.Info("Токен выдан",
		slog.String("tenant_id", req.Tenant),
		slog.Duration("ttl", ttl),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: signed, ExpiresAt: expires.UTC()})
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := os.Getenv("DEVIDP_PORT")
	if port == "" {
		port = "8081"
	}
	name := os.Getenv("DEVIDP_ISSUER")
	if name == "" {
		name = "http://localhost:" + port
	}
	keySize := 2048
	if v, err := strconv.Atoi(os.Getenv("DEVIDP_KEY_SIZE")); err == nil && v >= 2048 {
		keySize = v
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	is, err := newIssuer(key, name, logger)
	if err != nil {
		logger.Error("Ошибка сериализации JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           is.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Warn("devidp выдаёт токены любому клиенту, только для разработки",
		slog.String("addr", srv.Addr),
		slog.String("issuer", name),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
