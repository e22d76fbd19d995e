package test

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())

	resp, err := http.Get(server.URL() + "/healthz")
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	defer resp.Body.Close()

	AssertStatusCode(t, resp, http.StatusOK)
}

func TestFullOnboardingFlow(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "alice@example.com", "alice", "")

	// Fresh signup must be flagged for onboarding.
	status, resp := server.DoJSON(t, http.MethodGet, "/onboarding/status", token, nil)
	if status != http.StatusOK {
		t.Fatalf("status returned %d: %v", status, resp)
	}
	if resp["shouldOnboard"] != true {
		t.Fatalf("expected shouldOnboard=true, got %v", resp["shouldOnboard"])
	}
	if resp["currentStep"] != "createOrganization" {
		t.Fatalf("expected currentStep createOrganization, got %v", resp["currentStep"])
	}

	// Complete the required step.
	status, resp = server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", token,
		map[string]string{"organizationName": "Acme Corp"})
	if status != http.StatusOK {
		t.Fatalf("complete returned %d: %v", status, resp)
	}
	if resp["currentStep"] != "inviteMembers" {
		t.Fatalf("expected advance to inviteMembers, got %v", resp["currentStep"])
	}

	// Skip the optional completion step; the flow ends.
	status, resp = server.DoJSON(t, http.MethodPost, "/onboarding/skip-step/invite-members", token, nil)
	if status != http.StatusOK {
		t.Fatalf("skip returned %d: %v", status, resp)
	}
	if resp["currentStep"] != nil {
		t.Fatalf("expected null currentStep after completion, got %v", resp["currentStep"])
	}

	// Flag is down, step list is preserved.
	status, resp = server.DoJSON(t, http.MethodGet, "/onboarding/status", token, nil)
	if status != http.StatusOK || resp["shouldOnboard"] != false {
		t.Fatalf("expected shouldOnboard=false after finish, got %d %v", status, resp)
	}
	completed, _ := resp["completedSteps"].([]any)
	if len(completed) != 2 {
		t.Fatalf("expected both steps recorded, got %v", resp["completedSteps"])
	}

	// The created organization is active on the session.
	status, session := server.DoJSON(t, http.MethodGet, "/api/auth/session", token, nil)
	if status != http.StatusOK {
		t.Fatalf("session returned %d", status)
	}
	if session["activeOrganizationId"] == nil || session["activeOrganizationId"] == "" {
		t.Fatalf("expected active organization on session, got %v", session["activeOrganizationId"])
	}
	if session["shouldOnboard"] != false {
		t.Fatalf("expected session shouldOnboard=false")
	}
}

func TestCompletionStepGatedOnRequiredSteps(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "bob@example.com", "bob", "")

	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/skip-step/invite-members", token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %v", status, resp)
	}
	if resp["error"] != "COMPLETE_REQUIRED_STEPS_FIRST" {
		t.Fatalf("expected COMPLETE_REQUIRED_STEPS_FIRST, got %v", resp["error"])
	}

	status, resp = server.DoJSON(t, http.MethodPost, "/onboarding/step/invite-members", token,
		map[string]any{"emails": []string{"x@example.com"}})
	if status != http.StatusForbidden || resp["error"] != "COMPLETE_REQUIRED_STEPS_FIRST" {
		t.Fatalf("expected gated completion, got %d: %v", status, resp)
	}
}

func TestOnceStepCannotRepeat(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "carol@example.com", "carol", "")

	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", token,
		map[string]string{"organizationName": "First"})
	if status != http.StatusOK {
		t.Fatalf("first completion returned %d: %v", status, resp)
	}

	status, resp = server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", token,
		map[string]string{"organizationName": "Second"})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 on repeat, got %d: %v", status, resp)
	}
	if resp["error"] != "STEP_ALREADY_COMPLETED" {
		t.Fatalf("expected STEP_ALREADY_COMPLETED, got %v", resp["error"])
	}
}

func TestStepValidation(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "dave@example.com", "dave", "")

	// Name too short.
	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", token,
		map[string]string{"organizationName": "A"})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", status, resp)
	}

	// Failed validation must not advance the flow.
	_, resp = server.DoJSON(t, http.MethodGet, "/onboarding/status", token, nil)
	if resp["currentStep"] != "createOrganization" {
		t.Fatalf("expected flow unmoved after validation failure, got %v", resp["currentStep"])
	}
}

func TestUnknownStepSegmentIs404(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "erin@example.com", "erin", "")

	resp := server.DoRaw(t, http.MethodPost, "/onboarding/step/no-such-step", token, map[string]string{})
	defer resp.Body.Close()
	AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestOnboardingRequiresAuth(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())

	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", "",
		map[string]string{"organizationName": "Acme"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %v", status, resp)
	}
	if resp["error"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", resp["error"])
	}
}

func TestShouldOnboardForAnonymousIsFalse(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())

	resp := server.DoRaw(t, http.MethodGet, "/onboarding/should-onboard", "", nil)
	defer resp.Body.Close()
	AssertStatusCode(t, resp, http.StatusOK)
}

func TestInvitationSignupSkipsOnboarding(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())

	// Owner sets up an organization and invites a teammate.
	ownerToken := server.Register(t, "owner@example.com", "owner", "")
	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", ownerToken,
		map[string]string{"organizationName": "Acme Corp"})
	if status != http.StatusOK {
		t.Fatalf("owner onboarding failed: %d %v", status, resp)
	}
	status, resp = server.DoJSON(t, http.MethodPost, "/onboarding/step/invite-members", ownerToken,
		map[string]any{"emails": []string{"invitee@example.com"}})
	if status != http.StatusOK {
		t.Fatalf("invite failed: %d %v", status, resp)
	}

	invs, err := server.Invitations.ListByEmail("invitee@example.com")
	if err != nil || len(invs) != 1 {
		t.Fatalf("expected one invitation, got %v err=%v", invs, err)
	}

	// The invitee signs up through the invitation link and accepts.
	inviteeToken := server.Register(t, "invitee@example.com", "invitee",
		"https://app.example.com/accept-invitation/"+invs[0].ID)

	status, resp = server.DoJSON(t, http.MethodGet, "/onboarding/status", inviteeToken, nil)
	if status != http.StatusOK || resp["shouldOnboard"] != false {
		t.Fatalf("invited signup should not onboard, got %d %v", status, resp)
	}

	status, resp = server.DoJSON(t, http.MethodPost, "/api/invitations/"+invs[0].ID+"/accept", inviteeToken, nil)
	if status != http.StatusOK {
		t.Fatalf("accept failed: %d %v", status, resp)
	}

	// Session reflects the joined organization.
	status, session := server.DoJSON(t, http.MethodGet, "/api/auth/session", inviteeToken, nil)
	if status != http.StatusOK {
		t.Fatalf("session returned %d", status)
	}
	if session["activeOrganizationId"] == nil {
		t.Fatalf("expected joined organization active on session")
	}
	if session["shouldOnboard"] != false {
		t.Fatalf("expected shouldOnboard=false for joined member")
	}
}

func TestSessionSyncReenablesOnboarding(t *testing.T) {
	opts := DefaultOptions()
	opts.OnboardingEnabled = false
	server := NewTestServer(t, opts)
	token := server.Register(t, "frank@example.com", "frank", "")

	// Signed up with onboarding disabled, owns no organization: the session
	// fetch routes them back into onboarding.
	status, session := server.DoJSON(t, http.MethodGet, "/api/auth/session", token, nil)
	if status != http.StatusOK {
		t.Fatalf("session returned %d", status)
	}
	if session["shouldOnboard"] != true {
		t.Fatalf("expected sync to re-enable onboarding, got %v", session["shouldOnboard"])
	}

	// The flow resumes at the first step, not a dangling null pointer.
	status, onboardingStatus := server.DoJSON(t, http.MethodGet, "/onboarding/status", token, nil)
	if status != http.StatusOK {
		t.Fatalf("status returned %d", status)
	}
	if onboardingStatus["currentStep"] != "createOrganization" {
		t.Fatalf("expected currentStep createOrganization after re-enable, got %v", onboardingStatus["currentStep"])
	}
}

func TestSessionSyncRespectsOptionalOrganizationPolicy(t *testing.T) {
	opts := DefaultOptions()
	opts.OnboardingEnabled = false
	opts.RequireOrganization = false
	server := NewTestServer(t, opts)
	token := server.Register(t, "grace@example.com", "grace", "")

	// Without the mandatory-organization policy an org-less user stays out of
	// onboarding.
	status, session := server.DoJSON(t, http.MethodGet, "/api/auth/session", token, nil)
	if status != http.StatusOK {
		t.Fatalf("session returned %d", status)
	}
	if session["shouldOnboard"] != false {
		t.Fatalf("expected shouldOnboard to stay false, got %v", session["shouldOnboard"])
	}
}

func TestOnboardingRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.OnboardingRateMax = 5
	server := NewTestServer(t, opts)
	token := server.Register(t, "gail@example.com", "gail", "")

	var limited bool
	for i := 0; i < 8; i++ {
		resp := server.DoRaw(t, http.MethodGet, "/onboarding/status", token, nil)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d returned %d", i, resp.StatusCode)
		}
	}
	if !limited {
		t.Fatalf("expected a 429 within the window")
	}
}

func TestOnboardingRateLimitKeyedOnUserNotConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.OnboardingRateMax = 2
	server := NewTestServer(t, opts)
	token := server.Register(t, "ivan@example.com", "ivan", "")

	// Each request rides a fresh TCP connection; the window must still close
	// because the limiter keys on the authenticated user.
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	var limited bool
	for i := 0; i < 6; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL()+"/onboarding/status", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d returned %d", i, resp.StatusCode)
		}
	}
	if !limited {
		t.Fatalf("expected a 429 across fresh connections")
	}
}

func TestCanAccessStep(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())
	token := server.Register(t, "hank@example.com", "hank", "")

	resp := server.DoRaw(t, http.MethodGet, "/onboarding/can-access-step/create-organization", token, nil)
	resp.Body.Close()
	AssertStatusCode(t, resp, http.StatusOK)
}

func TestConcurrentUsersIsolated(t *testing.T) {
	server := NewTestServer(t, DefaultOptions())

	tokens := make([]string, 3)
	for i := range tokens {
		tokens[i] = server.Register(t,
			fmt.Sprintf("user%d@example.com", i),
			fmt.Sprintf("user%d", i), "")
	}

	// Only user 1 finishes the required step.
	status, resp := server.DoJSON(t, http.MethodPost, "/onboarding/step/create-organization", tokens[1],
		map[string]string{"organizationName": "Org One"})
	if status != http.StatusOK {
		t.Fatalf("completion failed: %d %v", status, resp)
	}

	for i, token := range tokens {
		_, resp := server.DoJSON(t, http.MethodGet, "/onboarding/status", token, nil)
		want := "createOrganization"
		if i == 1 {
			want = "inviteMembers"
		}
		if resp["currentStep"] != want {
			t.Fatalf("user %d: expected currentStep %q, got %v", i, want, resp["currentStep"])
		}
	}
}
