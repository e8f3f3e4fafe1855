package pipeline

import (
	"context"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// Gateway is the remote profile service.
type Gateway interface {
	GetProfile(ctx context.Context, subjectID string) (*models.Profile, error)
	UpdateProfile(ctx context.Context, subjectID string, profile *models.Profile) error
	GetEntries(ctx context.Context, subjectID string, list models.ProfileList) ([]models.ProfileEntry, error)
	UpdateEntries(ctx context.Context, subjectID string, list models.ProfileList, entries []models.ProfileEntry) error
}

// FaultPolicy decides whether a failed write step stops the chain.
type FaultPolicy int

const (
	AbortOnAny FaultPolicy = iota
	TolerateAuthorizationDenied
)

func (p FaultPolicy) tolerates(err error) bool {
	return p == TolerateAuthorizationDenied && errors.IsCode(err, errors.ErrCodeAuthorizationDenied)
}

type StepOutcome string

const (
	Written   StepOutcome = "written"
	Tolerated StepOutcome = "tolerated"
	Failed    StepOutcome = "failed"
	Skipped   StepOutcome = "skipped"
)

// Step writes one part of the updated profile.
type Step struct {
	Name   string
	Policy FaultPolicy
	Write  func(ctx context.Context, gw Gateway, subjectID string, profile *models.Profile) error
}

type StepResult struct {
	Step    string
	Outcome StepOutcome
	Err     error
}

func profileStep() Step {
	return Step{
		Name:   "profile",
		Policy: AbortOnAny,
		Write: func(ctx context.Context, gw Gateway, subjectID string, profile *models.Profile) error {
			return gw.UpdateProfile(ctx, subjectID, profile)
		},
	}
}

func listStep(list models.ProfileList) Step {
	return Step{
		Name:   string(list),
		Policy: TolerateAuthorizationDenied,
		Write: func(ctx context.Context, gw Gateway, subjectID string, profile *models.Profile) error {
			return gw.UpdateEntries(ctx, subjectID, list, profile.Entries(list))
		},
	}
}

// DefaultSteps writes the scalar profile, then competences, meanings and materials.
func DefaultSteps() []Step {
	return []Step{
		profileStep(),
		listStep(models.ListCompetences),
		listStep(models.ListMeanings),
		listStep(models.ListMaterials),
	}
}
