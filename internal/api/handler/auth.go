package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "channels-backend"

var errNoIdentity = errors.New("userId is required")

// generateJWT signs an HS256 token carrying the user id and display name.
func generateJWT(secret []byte, userID, userName string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":   userID,
		"user_name": userName,
		"exp":       time.Now().Add(ttl).Unix(),
		"iss":       issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseJWT validates tokenString and returns its user id and name.
func parseJWT(secret []byte, tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("unexpected claims %T", token.Claims)
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", "", errors.New("token has no user_id")
	}
	userName, _ := claims["user_name"].(string)
	return userID, userName, nil
}

// IssueToken returns a signed token. A userName resolves (or creates) the
// named user; a bare userId is signed as is; with neither an anonymous id is
// generated.
func (h *Handler) IssueToken(c *gin.Context) {
	userID := c.Query("userId")
	userName := strings.TrimSpace(c.Query("userName"))

	if userName != "" && userID == "" {
		u, err := h.Storage.GetOrCreateUserByName(c.Request.Context(), userName)
		if err != nil {
			writeError(c, err)
			return
		}
		userID, userName = u.ID, u.Name
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	token, err := generateJWT(h.secret, userID, userName, h.ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "userId": userID, "userName": userName})
}

// identity extracts the caller from a bearer token, a token query parameter
// or a plain userId query parameter, in that order.
func (h *Handler) identity(c *gin.Context) (string, string, error) {
	tokenString := c.Query("token")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenString = strings.TrimPrefix(auth, "Bearer ")
	}
	if tokenString != "" {
		return parseJWT(h.secret, tokenString)
	}
	if id := c.Query("userId"); id != "" {
		return id, c.Query("userName"), nil
	}
	return "", "", errNoIdentity
}
