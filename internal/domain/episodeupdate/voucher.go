package episodeupdate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// BetsThresholdProperty records the fulfilment date at which prescriptions first
// covered the BETS threshold number of days.
const BetsThresholdProperty = "bets_date_prescription_threshold_met"

// Default prescription day thresholds for BETS incentives.
const (
	DefaultFDCThreshold    = 168
	DefaultNonFDCThreshold = 180
)

var prescriptionDayMarks = []int{30, 60, 90, 120}

var refillStates = map[string]bool{
	"fulfilled": true,
	"available": true,
	"paid":      true,
	"approved":  true,
	"rejected":  true,
}

// VoucherUpdate summarises an episode's prescription vouchers: days prescribed,
// refill due dates and details of the first voucher.
type VoucherUpdate struct {
	res             *hierarchy.Resolver
	fdcThreshold    int
	nonFDCThreshold int
}

func NewVoucherUpdate(res *hierarchy.Resolver, fdcThreshold, nonFDCThreshold int) *VoucherUpdate {
	if fdcThreshold <= 0 {
		fdcThreshold = DefaultFDCThreshold
	}
	if nonFDCThreshold <= 0 {
		nonFDCThreshold = DefaultNonFDCThreshold
	}
	return &VoucherUpdate{res: res, fdcThreshold: fdcThreshold, nonFDCThreshold: nonFDCThreshold}
}

func (u *VoucherUpdate) Name() string { return "voucher" }

func (u *VoucherUpdate) UpdateJSON(ctx context.Context, episode *cg.Case) (map[string]string, error) {
	vouchers, err := u.res.PrescriptionVouchersFromEpisode(ctx, episode.CaseID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	threshold := u.nonFDCThreshold
	if episode.Property("treatment_options") == "fdc" {
		threshold = u.fdcThreshold
	}
	totals, err := PrescriptionTotalDays(vouchers, threshold)
	if err != nil {
		return nil, err
	}
	for k, v := range totals {
		out[k] = v
	}
	for k, v := range RefillDueDates(vouchers) {
		out[k] = v
	}
	first, err := u.firstVoucherDetails(ctx, vouchers)
	if err != nil {
		return nil, err
	}
	for k, v := range first {
		out[k] = v
	}
	return UpdatedFields(episode.DynamicProperties(), out), nil
}

func isPrescriptionVoucher(c *cg.Case) bool {
	return c.Property("voucher_type") == cg.TypePrescription
}

func sortedBy(cases []*cg.Case, property string) []*cg.Case {
	out := make([]*cg.Case, len(cases))
	copy(out, cases)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Property(property) < out[j].Property(property)
	})
	return out
}

func fulfilledVouchers(vouchers []*cg.Case) []*cg.Case {
	return sortedBy(cg.Filter(vouchers, func(c *cg.Case) bool {
		return isPrescriptionVoucher(c) && c.Property("date_fulfilled") != ""
	}), "date_fulfilled")
}

// PrescriptionTotalDays sums final_prescription_num_days over fulfilled vouchers in
// fulfilment order and records the date each 30/60/90/120 day mark and the BETS
// threshold was first reached.
func PrescriptionTotalDays(vouchers []*cg.Case, threshold int) (map[string]string, error) {
	out := make(map[string]string)
	total := 0
	thresholdMet := false
	for _, v := range fulfilledVouchers(vouchers) {
		if raw := v.Property("final_prescription_num_days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, cg.InvalidProperty(v.CaseID, "final_prescription_num_days", err)
			}
			total += n
		}
		fulfilled := v.Property("date_fulfilled")
		for _, mark := range prescriptionDayMarks {
			prop := fmt.Sprintf("prescription_total_days_threshold_%d", mark)
			if _, set := out[prop]; total >= mark && !set {
				out[prop] = fulfilled
			}
		}
		if total >= threshold && !thresholdMet {
			out[BetsThresholdProperty] = fulfilled
			thresholdMet = true
		}
	}
	out["prescription_total_days"] = formatInt(total)
	return out, nil
}

// RefillDueDates predicts the next refill from the latest issued voucher. It returns
// nothing when the voucher lacks a usable issue date or length.
func RefillDueDates(vouchers []*cg.Case) map[string]string {
	eligible := sortedBy(cg.Filter(vouchers, func(c *cg.Case) bool {
		return isPrescriptionVoucher(c) && refillStates[c.Property("state")]
	}), "date_issued")
	if len(eligible) == 0 {
		return nil
	}
	latest := eligible[len(eligible)-1]

	issued, err := cg.ParseDay(latest.Property("date_issued"))
	if err != nil {
		return nil
	}
	length := latest.Property("final_prescription_num_days")
	if length == "" {
		length = latest.Property("prescription_num_days")
	}
	days, err := strconv.Atoi(length)
	if err != nil {
		return nil
	}
	return map[string]string{
		"date_last_refill": formatDate(issued),
		"voucher_length":   length,
		"refill_due_date":  formatDate(issued.AddDate(0, 0, days)),
	}
}

func (u *VoucherUpdate) firstVoucherDetails(ctx context.Context, vouchers []*cg.Case) (map[string]string, error) {
	all := sortedBy(vouchers, "date_issued")
	if len(all) == 0 {
		return nil, nil
	}
	first := all[0]
	prescription, err := u.res.PrescriptionFromVoucher(ctx, first.CaseID)
	if errors.Is(err, cg.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prescription.Closed {
		return nil, nil
	}

	validation := ""
	if fulfilled := fulfilledVouchers(vouchers); len(fulfilled) > 0 {
		validation = fulfilled[0].Property("date_fulfilled")
	}
	return map[string]string{
		"first_voucher_generation_date": first.Property("date_issued"),
		"first_voucher_drugs":           prescription.Property("drugs_ordered_readable"),
		"first_voucher_validation_date": validation,
	}, nil
}
