package hierarchy

import (
	"context"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// VoucherParent returns the prescription or test a voucher was issued against.
// A voucher with both parents is Ambiguous.
func (r *Resolver) VoucherParent(ctx context.Context, voucherID string) (*cg.Case, error) {
	parents, err := r.AllParents(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	prescriptions := cg.OfType(parents, cg.TypePrescription)
	tests := cg.OfType(parents, cg.TypeTest)
	switch {
	case len(prescriptions) == 0 && len(tests) == 0:
		return nil, cg.NotFound(voucherID, "couldn't find any open parent prescription or test cases for id: %s", voucherID)
	case len(prescriptions) > 0 && len(tests) > 0:
		return nil, cg.Ambiguous(voucherID, "voucher %s has both a prescription and a test parent", voucherID)
	case len(tests) > 0:
		return tests[0], nil
	}
	return prescriptions[0], nil
}

// EpisodeFromVoucher resolves a prescription voucher to its episode.
func (r *Resolver) EpisodeFromVoucher(ctx context.Context, voucherID string) (*cg.Case, error) {
	parent, err := r.VoucherParent(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if parent.Type != cg.TypePrescription {
		return nil, cg.Precondition(voucherID, "voucher %s belongs to a %s, not a prescription", voucherID, parent.Type)
	}
	return r.FirstParentOfType(ctx, parent.CaseID, cg.TypeEpisode)
}

// PersonFromVoucher handles both voucher shapes:
// person <- occurrence <- episode <- prescription <- voucher and
// person <- occurrence <- test <- voucher.
func (r *Resolver) PersonFromVoucher(ctx context.Context, voucherID string) (*cg.Case, error) {
	parent, err := r.VoucherParent(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if parent.Type == cg.TypePrescription {
		episode, err := r.FirstParentOfType(ctx, parent.CaseID, cg.TypeEpisode)
		if err != nil {
			return nil, err
		}
		return r.PersonFromEpisode(ctx, episode.CaseID)
	}
	return r.personFromTest(ctx, parent.CaseID)
}

// PrescriptionVouchersFromEpisode returns every voucher under the episode's
// prescriptions.
func (r *Resolver) PrescriptionVouchersFromEpisode(ctx context.Context, episodeID string) ([]*cg.Case, error) {
	prescriptions, err := r.children(ctx, []string{episodeID}, cg.Types(cg.TypePrescription))
	if err != nil {
		return nil, err
	}
	return r.children(ctx, cg.IDs(prescriptions), cg.Types(cg.TypeVoucher))
}

// FulfilledPrescriptionVouchersFromEpisode keeps prescription vouchers in state
// fulfilled.
func (r *Resolver) FulfilledPrescriptionVouchersFromEpisode(ctx context.Context, episodeID string) ([]*cg.Case, error) {
	vouchers, err := r.PrescriptionVouchersFromEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return cg.Filter(vouchers, func(c *cg.Case) bool {
		return c.Property("voucher_type") == cg.TypePrescription && c.Property("state") == "fulfilled"
	}), nil
}

// AllVouchersFromPerson returns vouchers under the person's tests and prescriptions.
func (r *Resolver) AllVouchersFromPerson(ctx context.Context, personID string) ([]*cg.Case, error) {
	occurrences, err := r.AllOccurrencesFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	children, err := r.children(ctx, cg.IDs(occurrences), cg.Types(cg.TypeTest, cg.TypeEpisode))
	if err != nil {
		return nil, err
	}
	parents := cg.IDs(cg.OfType(children, cg.TypeTest))
	prescriptions, err := r.children(ctx, cg.IDs(cg.OfType(children, cg.TypeEpisode)), cg.Types(cg.TypePrescription))
	if err != nil {
		return nil, err
	}
	parents = append(parents, cg.IDs(prescriptions)...)
	return r.children(ctx, parents, cg.Types(cg.TypeVoucher))
}
