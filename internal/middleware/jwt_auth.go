package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ==================== 操作员认证 ====================

// AuthConfig 操作员 token 配置
type AuthConfig struct {
	SecretKey string        // 签名密钥
	TokenTTL  time.Duration // 有效期
	Issuer    string        // 签发者
}

// OperatorClaims 操作员声明
type OperatorClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RoleOperator 唯一有效角色，可修改配置、触发同步与导入
const RoleOperator = "operator"

// OperatorAuth 签发与校验操作员 token
type OperatorAuth struct {
	cfg AuthConfig
	now func() time.Time
}

func NewOperatorAuth(cfg AuthConfig) *OperatorAuth {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 2 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "supplier-feed"
	}
	return &OperatorAuth{cfg: cfg, now: time.Now}
}

// ==================== Token 生成 ====================

// GenerateToken 签发 HS256 token
func (a *OperatorAuth) GenerateToken(operator string) (string, error) {
	if a.cfg.SecretKey == "" {
		return "", errors.New("auth secret is empty")
	}
	now := a.now()
	claims := &OperatorClaims{
		Operator: operator,
		Role:     RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   "access",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.SecretKey))
}

// ==================== Token 解析 ====================

// ParseToken 校验签名、签发者与有效期
func (a *OperatorAuth) ParseToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(a.cfg.SecretKey), nil
	}, jwt.WithIssuer(a.cfg.Issuer), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// ==================== Gin 中间件 ====================

// Context Keys
const (
	ContextKeyOperator = "operator"
)

// Middleware 要求 Authorization: Bearer {token}
func (a *OperatorAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "未提供认证信息",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "认证格式错误，应为 Bearer {token}",
			})
			c.Abort()
			return
		}

		claims, err := a.ParseToken(parts[1])
		if err != nil || claims.Subject != "access" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "Token 无效或已过期",
			})
			c.Abort()
			return
		}

		if claims.Role != RoleOperator {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "无权限访问",
			})
			c.Abort()
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// GetOperator 从 Context 获取操作员，未认证时为空
func GetOperator(c *gin.Context) string {
	if name, exists := c.Get(ContextKeyOperator); exists {
		if s, ok := name.(string); ok {
			return s
		}
	}
	return ""
}
