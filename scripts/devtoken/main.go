// Mints an org-scoped API token for local testing.
//
// Usage: go run scripts/devtoken/main.go <org_id> [user_id]
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go <org_id> [user_id]")
		os.Exit(1)
	}
	orgID := os.Args[1]
	userID := "dev"
	if len(os.Args) > 2 {
		userID = os.Args[2]
	}

	secret := os.Getenv("API_JWT_SECRET")
	if secret == "" {
		fmt.Println("Error: API_JWT_SECRET environment variable not set")
		os.Exit(1)
	}

	claims := jwt.MapClaims{
		"org_id": orgID,
		"sub":    userID,
		"iat":    jwt.NewNumericDate(time.Now()),
		"exp":    jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
}
