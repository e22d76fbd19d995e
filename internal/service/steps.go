package service

import (
	"context"
	"errors"

	"github.com/flowstack/flowstack/internal/onboarding"
)

// createOrganizationInput is the payload for the create-organization step.
type createOrganizationInput struct {
	OrganizationName string `json:"organizationName" validate:"required,min=2,max=100"`
	Logo             string `json:"logo" validate:"omitempty,url"`
}

// inviteMembersInput is the payload for the invite-members step.
type inviteMembersInput struct {
	Emails []string `json:"emails" validate:"required,min=1,max=20,dive,email"`
	Role   string   `json:"role" validate:"omitempty,oneof=admin member"`
}

// DefaultSteps returns the stock onboarding flow: create an organization,
// then optionally invite teammates. Inviting is the completion step, so a
// user may skip it, but only once the required organization exists.
func DefaultSteps(orgs *OrganizationService) (completionStep string, steps []onboarding.Step) {
	create := onboarding.Step{
		ID:       "createOrganization",
		Order:    1,
		Required: true,
		NewInput: func() any { return &createOrganizationInput{} },
		Handler: func(ctx context.Context, req onboarding.HandlerRequest) (any, error) {
			in := req.Input.(*createOrganizationInput)
			org, err := orgs.CreateOrganization(ctx, req.UserID, req.SessionID, in.OrganizationName, in.Logo)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"organization": org,
			}, nil
		},
	}

	invite := onboarding.Step{
		ID:       "inviteMembers",
		Order:    2,
		Required: false,
		NewInput: func() any { return &inviteMembersInput{} },
		Handler: func(ctx context.Context, req onboarding.HandlerRequest) (any, error) {
			in := req.Input.(*inviteMembersInput)

			memberships, err := orgs.memberRepo.ListByUser(req.UserID)
			if err != nil {
				return nil, err
			}
			if len(memberships) == 0 {
				return nil, errors.New("no organization to invite members to")
			}

			invitations, err := orgs.InviteMembers(ctx, req.UserID, memberships[0].OrganizationID, in.Emails, in.Role)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"invitations": invitations,
			}, nil
		},
	}

	return invite.ID, []onboarding.Step{create, invite}
}
