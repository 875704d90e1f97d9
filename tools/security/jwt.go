package security

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 1h）
}

var (
	ErrNoSubject = errors.New("token carries no user id")
	// ErrNoSecret 未配置密钥时一律拒绝，空密钥签出的令牌任何人都能伪造
	ErrNoSecret = errors.New("jwt secret not configured")
)

// Claims 兼容两种载荷：{"user":{"id":...}} 与标准 sub
type Claims struct {
	jwtlib.MapClaims
}

func (c *Claims) UserID() string {
	if u, ok := c.MapClaims["user"].(map[string]any); ok {
		if id, ok := u["id"].(string); ok && id != "" {
			return id
		}
	}
	if sub, ok := c.MapClaims["sub"].(string); ok {
		return sub
	}
	return ""
}

// Generate signs a token for userID. Mostly used by tests and tooling; the
// login flow that issues tokens lives in the account service.
func Generate(opts Options, userID string) (string, time.Time, error) {
	if len(opts.Secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)
	claims := jwtlib.MapClaims{
		"user": map[string]any{"id": userID},
		"sub":  userID,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

func Verify(opts Options, token string) (*Claims, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrNoSecret
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	c := &Claims{claims}
	if c.UserID() == "" {
		return nil, ErrNoSubject
	}
	return c, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
