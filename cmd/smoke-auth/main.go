// Command smoke-auth runs an end-to-end check against a live instance:
// health, login, authenticated whoami, and a refresh round trip.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	log.SetFlags(0)

	base := os.Getenv("CARBONTRACE_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("CARBONTRACE_SMOKE_EMAIL")
	password := os.Getenv("CARBONTRACE_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("set CARBONTRACE_SMOKE_EMAIL and CARBONTRACE_SMOKE_PASSWORD")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var health struct {
		Status string `json:"status"`
	}
	mustCall(client, http.MethodGet, base+"/healthz", "", nil, http.StatusOK, &health)
	if health.Status != "ok" {
		log.Fatalf("healthz status = %q", health.Status)
	}

	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		UserInfo     struct {
			Email string `json:"email"`
		} `json:"user_info"`
	}
	mustCall(client, http.MethodPost, base+"/v1/auth/login",
		fmt.Sprintf(`{"email":%q,"password":%q}`, email, password),
		nil, http.StatusOK, &login)
	if login.AccessToken == "" || login.RefreshToken == "" {
		log.Fatal("login returned an incomplete token pair")
	}

	var whoami struct {
		UserInfo struct {
			Email string `json:"email"`
		} `json:"user_info"`
	}
	mustCall(client, http.MethodGet, base+"/v1/auth/me", "",
		map[string]string{"Authorization": "Bearer " + login.AccessToken},
		http.StatusOK, &whoami)
	if whoami.UserInfo.Email != login.UserInfo.Email {
		log.Fatalf("whoami email %q != login email %q", whoami.UserInfo.Email, login.UserInfo.Email)
	}

	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	mustCall(client, http.MethodPost, base+"/v1/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, login.RefreshToken),
		nil, http.StatusOK, &refreshed)
	if refreshed.AccessToken == "" {
		log.Fatal("refresh returned no access token")
	}

	// A refresh token must never authenticate a request directly.
	resp := call(client, http.MethodGet, base+"/v1/auth/me", "",
		map[string]string{"Authorization": "Bearer " + login.RefreshToken})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("refresh token accepted as bearer: status %d", resp.StatusCode)
	}

	fmt.Println("auth smoke test passed")
}

func call(client *http.Client, method, url, body string, headers map[string]string) *http.Response {
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func mustCall(client *http.Client, method, url, body string, headers map[string]string, wantStatus int, out any) {
	resp := call(client, method, url, body, headers)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("%s %s: read body: %v", method, url, err)
	}
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d\n%s", method, url, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
}
