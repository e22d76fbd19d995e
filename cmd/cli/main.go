package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "auth":
		handleAuth(args)
	case "onboarding":
		handleOnboarding(args)
	case "org":
		handleOrg(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: flowstack auth <register|login|logout|who>")
		return
	}

	subCmd := args[0]
	switch subCmd {
	case "register":
		registerUser(args[1:])
	case "login":
		loginUser(args[1:])
	case "logout":
		logoutUser()
	case "who":
		whoAmI()
	default:
		fmt.Printf("unknown auth command: %s\n", subCmd)
	}
}

func handleOnboarding(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: flowstack onboarding <status|should|complete|skip>")
		return
	}

	subCmd := args[0]
	switch subCmd {
	case "status":
		onboardingStatus()
	case "should":
		shouldOnboard()
	case "complete":
		completeStep(args[1:])
	case "skip":
		skipStep(args[1:])
	default:
		fmt.Printf("unknown onboarding command: %s\n", subCmd)
	}
}

func handleOrg(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: flowstack org <list|active|create>")
		return
	}

	subCmd := args[0]
	switch subCmd {
	case "list":
		listOrgs()
	case "active":
		activeOrg()
	case "create":
		createOrg(args[1:])
	default:
		fmt.Printf("unknown org command: %s\n", subCmd)
	}
}

// Auth commands
func registerUser(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")
	redirectTo := fs.String("redirect-to", "", "redirect target (optional)")

	fs.Parse(args)

	if *email == "" || *username == "" || *password == "" {
		fmt.Println("Error: email, username, and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{
		"email":    *email,
		"username": *username,
		"password": *password,
	}
	if *redirectTo != "" {
		payload["redirectTo"] = *redirectTo
	}

	data, _ := json.Marshal(payload)
	resp, err := http.Post(getAPIURL()+"/api/auth/register", "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 201 {
		fmt.Printf("✓ User registered: %s\n", *email)
		if token, ok := result["token"].(string); ok {
			saveToken(token)
		}
		if redirect, ok := result["onboardingRedirect"].(bool); ok && redirect {
			fmt.Printf("→ Onboarding starts at step: %v\n", result["currentStep"])
		}
	} else {
		fmt.Printf("✗ Registration failed: %v\n", result)
	}
}

func loginUser(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password")

	fs.Parse(args)

	if *email == "" || *password == "" {
		fmt.Println("Error: email and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"email": *email, "password": *password}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(getAPIURL()+"/api/auth/login", "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 200 {
		if token, ok := result["token"].(string); ok {
			saveToken(token)
			fmt.Printf("✓ Logged in as: %s\n", *email)
		}
	} else {
		fmt.Printf("✗ Login failed: %v\n", result)
	}
}

func logoutUser() {
	os.Remove(tokenFile())
	fmt.Println("✓ Logged out")
}

func whoAmI() {
	var result map[string]interface{}
	if !getJSON("/api/auth/session", &result) {
		return
	}
	fmt.Printf("✓ %v (%v)\n", result["username"], result["email"])
	if active, ok := result["activeOrganizationId"].(string); ok && active != "" {
		fmt.Printf("  Active organization: %s\n", active)
	}
	if should, ok := result["shouldOnboard"].(bool); ok && should {
		fmt.Println("  Onboarding pending")
	}
}

// Onboarding commands
func onboardingStatus() {
	var result map[string]interface{}
	if !getJSON("/onboarding/status", &result) {
		return
	}

	fmt.Printf("Should onboard: %v\n", result["shouldOnboard"])
	fmt.Printf("Current step:   %v\n", result["currentStep"])

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tCOMPLETED")
	completed := map[string]bool{}
	if steps, ok := result["completedSteps"].([]interface{}); ok {
		for _, s := range steps {
			if id, ok := s.(string); ok {
				completed[id] = true
			}
		}
	}
	if order, ok := result["stepOrder"].([]interface{}); ok {
		for _, s := range order {
			id, _ := s.(string)
			fmt.Fprintf(w, "%s\t%v\n", id, completed[id])
		}
	}
	w.Flush()
}

func shouldOnboard() {
	var result bool
	if !getJSON("/onboarding/should-onboard", &result) {
		return
	}
	fmt.Printf("%v\n", result)
}

func completeStep(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: flowstack onboarding complete <step-segment> [json-payload]")
		return
	}
	body := "{}"
	if len(args) > 1 {
		body = args[1]
	}

	req, _ := http.NewRequest("POST", getAPIURL()+"/onboarding/step/"+args[0], strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 200 {
		fmt.Printf("✓ Step completed. Next: %v\n", result["currentStep"])
	} else {
		fmt.Printf("✗ Step failed: %v\n", result)
	}
}

func skipStep(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: flowstack onboarding skip <step-segment>")
		return
	}

	req, _ := http.NewRequest("POST", getAPIURL()+"/onboarding/skip-step/"+args[0], nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 200 {
		fmt.Printf("✓ Step skipped. Next: %v\n", result["currentStep"])
	} else {
		fmt.Printf("✗ Skip failed: %v\n", result)
	}
}

// Organization commands
func listOrgs() {
	var orgs []map[string]interface{}
	if !getJSON("/api/organizations", &orgs) {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSLUG")
	for _, o := range orgs {
		fmt.Fprintf(w, "%v\t%v\t%v\n", o["id"], o["name"], o["slug"])
	}
	w.Flush()
}

func activeOrg() {
	var result map[string]interface{}
	if !getJSON("/api/organizations/active", &result) {
		return
	}
	if result == nil {
		fmt.Println("No active organization")
		return
	}
	fmt.Printf("✓ %v (%v)\n", result["name"], result["slug"])
}

func createOrg(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "organization name")
	fs.Parse(args)

	if *name == "" {
		fmt.Println("Error: name is required")
		fs.PrintDefaults()
		return
	}

	data, _ := json.Marshal(map[string]string{"name": *name})
	req, _ := http.NewRequest("POST", getAPIURL()+"/api/organizations", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 201 {
		fmt.Printf("✓ Organization created: %v (%v)\n", result["name"], result["slug"])
	} else {
		fmt.Printf("✗ Create failed: %v\n", result)
	}
}

// Helper functions
func getJSON(path string, out interface{}) bool {
	req, _ := http.NewRequest("GET", getAPIURL()+path, nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		var errBody map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&errBody)
		fmt.Printf("✗ Request failed: %v\n", errBody)
		return false
	}
	json.NewDecoder(resp.Body).Decode(out)
	return true
}

func getAPIURL() string {
	if url := os.Getenv("FLOWSTACK_API"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return home + "/.flowstack/token"
}

func saveToken(token string) error {
	home, _ := os.UserHomeDir()
	os.MkdirAll(home+"/.flowstack", 0700)
	return os.WriteFile(tokenFile(), []byte(token), 0600)
}

func loadToken() string {
	data, _ := os.ReadFile(tokenFile())
	return string(data)
}

func addAuthHeader(req *http.Request) {
	token := loadToken()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func printUsage() {
	fmt.Print(`FlowStack CLI

Usage:
  flowstack <command> [options]

Commands:
  auth        User authentication (register, login, logout, who)
  onboarding  Onboarding operations (status, should, complete, skip)
  org         Organization operations (list, active, create)
  help        Show this help message

Environment Variables:
  FLOWSTACK_API    API endpoint (default: http://localhost:8080)

Examples:
  flowstack auth register -email user@example.com -username user -password pass
  flowstack onboarding status
  flowstack onboarding complete create-organization '{"organizationName":"Acme"}'
  flowstack org list
`)
}
