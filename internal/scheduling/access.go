package scheduling

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SpecialtyAccess is the set of specialties a patient may book right now.
type SpecialtyAccess struct {
	Allowed   []string `json:"allowed"`
	Preferred *string  `json:"preferred"`
}

// Allows reports whether specialty is in the allowed set, ignoring case.
func (a *SpecialtyAccess) Allows(specialty string) bool {
	for _, s := range a.Allowed {
		if sameSpecialty(s, specialty) {
			return true
		}
	}
	return false
}

// ResolveAllowedSpecialties recomputes the patient's bookable specialties
// from consultation history. Nothing is cached between calls.
func (s *Service) ResolveAllowedSpecialties(ctx context.Context, patientID uuid.UUID) (access *SpecialtyAccess, err error) {
	ctx, done := s.track(ctx, "resolve_specialties", attribute.String("patient_id", patientID.String()))
	defer func() { done(err) }()

	if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return resolveAccess(ctx, s.repo, patientID)
}

// resolveAccess applies the referral rule: general medicine is always
// allowed; a referral is active iff it was issued strictly after the latest
// finalized visit in its specialty; the newest active referral is preferred;
// a pending unscheduled exam order unlocks nursing.
func resolveAccess(ctx context.Context, repo Repository, patientID uuid.UUID) (*SpecialtyAccess, error) {
	referrals, err := repo.ListReferrals(ctx, patientID)
	if err != nil {
		return nil, err
	}
	consumptions, err := repo.ListConsumptions(ctx, patientID)
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]time.Time, len(consumptions))
	for _, c := range consumptions {
		k := specialtyKey(c.Specialty)
		if at, ok := consumed[k]; !ok || c.At.After(at) {
			consumed[k] = c.At
		}
	}

	slices.SortStableFunc(referrals, func(a, b Referral) int {
		return b.IssuedAt.Compare(a.IssuedAt)
	})

	access := &SpecialtyAccess{Allowed: []string{GeneralSpecialty}}
	seen := map[string]bool{specialtyKey(GeneralSpecialty): true}

	for _, ref := range referrals {
		k := specialtyKey(ref.Specialty)
		if k == "" {
			continue
		}
		if at, ok := consumed[k]; ok && !ref.IssuedAt.After(at) {
			continue
		}
		if access.Preferred == nil {
			label := ref.Specialty
			access.Preferred = &label
		}
		if !seen[k] {
			seen[k] = true
			access.Allowed = append(access.Allowed, ref.Specialty)
		}
	}

	pending, err := repo.HasPendingExamOrder(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if pending && !seen[specialtyKey(NursingSpecialty)] {
		access.Allowed = append(access.Allowed, NursingSpecialty)
	}

	return access, nil
}
