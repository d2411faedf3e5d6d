package episodeupdate

import (
	"context"
	"errors"
	"testing"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/casegraph/casegraphtest"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

func voucher(id string, kv ...string) *cg.Case {
	return &cg.Case{
		CaseID:     id,
		Domain:     "enikshay",
		Type:       cg.TypeVoucher,
		Properties: cg.NewProperties(append([]string{"voucher_type", cg.TypePrescription}, kv...)...),
	}
}

func TestPrescriptionTotalDays(t *testing.T) {
	vouchers := []*cg.Case{
		voucher("v3", "date_fulfilled", "2017-03-15", "final_prescription_num_days", "90"),
		voucher("v1", "date_fulfilled", "2017-01-10", "final_prescription_num_days", "30"),
		voucher("v4", "final_prescription_num_days", "60"),
		voucher("v2", "date_fulfilled", "2017-02-10", "final_prescription_num_days", "60"),
		voucher("lab", "voucher_type", "test", "date_fulfilled", "2017-01-01", "final_prescription_num_days", "500"),
	}

	got, err := PrescriptionTotalDays(vouchers, DefaultFDCThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"prescription_total_days":               "180",
		"prescription_total_days_threshold_30":  "2017-01-10",
		"prescription_total_days_threshold_60":  "2017-02-10",
		"prescription_total_days_threshold_90":  "2017-02-10",
		"prescription_total_days_threshold_120": "2017-03-15",
		BetsThresholdProperty:                   "2017-03-15",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	assertProps(t, got, want)
}

func TestPrescriptionTotalDays_BelowThreshold(t *testing.T) {
	vouchers := []*cg.Case{
		voucher("v1", "date_fulfilled", "2017-01-10", "final_prescription_num_days", "30"),
		voucher("v2", "date_fulfilled", "2017-02-10"),
	}
	got, err := PrescriptionTotalDays(vouchers, DefaultNonFDCThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["prescription_total_days"] != "30" {
		t.Errorf("expected 30 days, got %q", got["prescription_total_days"])
	}
	if _, ok := got[BetsThresholdProperty]; ok {
		t.Errorf("did not expect %s, got %v", BetsThresholdProperty, got)
	}
	if _, ok := got["prescription_total_days_threshold_60"]; ok {
		t.Errorf("did not expect 60 day mark, got %v", got)
	}
}

func TestPrescriptionTotalDays_InvalidDays(t *testing.T) {
	vouchers := []*cg.Case{voucher("v1", "date_fulfilled", "2017-01-10", "final_prescription_num_days", "thirty")}
	_, err := PrescriptionTotalDays(vouchers, DefaultFDCThreshold)
	if !errors.Is(err, cg.ErrInvalidProperty) {
		t.Fatalf("expected invalid property, got %v", err)
	}
}

func TestRefillDueDates(t *testing.T) {
	tests := []struct {
		name     string
		vouchers []*cg.Case
		want     map[string]string
	}{
		{
			name: "latest issued eligible voucher",
			vouchers: []*cg.Case{
				voucher("v1", "state", "fulfilled", "date_issued", "2017-01-01", "final_prescription_num_days", "30"),
				voucher("v2", "state", "approved", "date_issued", "2017-03-01", "final_prescription_num_days", "90"),
				voucher("v3", "state", "expired", "date_issued", "2017-04-01", "final_prescription_num_days", "30"),
			},
			want: map[string]string{
				"date_last_refill": "2017-03-01",
				"voucher_length":   "90",
				"refill_due_date":  "2017-05-30",
			},
		},
		{
			name: "falls back to prescribed days",
			vouchers: []*cg.Case{
				voucher("v1", "state", "available", "date_issued", "2017-01-01", "prescription_num_days", "15"),
			},
			want: map[string]string{
				"date_last_refill": "2017-01-01",
				"voucher_length":   "15",
				"refill_due_date":  "2017-01-16",
			},
		},
		{
			name: "no length",
			vouchers: []*cg.Case{
				voucher("v1", "state", "paid", "date_issued", "2017-01-01"),
			},
		},
		{
			name: "no eligible voucher",
			vouchers: []*cg.Case{
				voucher("v1", "state", "cancelled", "date_issued", "2017-01-01", "final_prescription_num_days", "30"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RefillDueDates(tt.vouchers)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			assertProps(t, got, tt.want)
		})
	}
}

func voucherGraph(t *testing.T) *casegraphtest.Graph {
	g := casegraphtest.New(t)
	g.Person("p1")
	g.Occurrence("o1", "p1")
	g.Episode("e1", "o1", "confirmed_tb", casegraphtest.Props(
		"treatment_options", "fdc",
		"prescription_total_days", "210",
	))
	g.Case("rx1", cg.TypePrescription, casegraphtest.Parent("e1"), casegraphtest.Props("drugs_ordered_readable", "HRZE"))
	g.Case("v1", cg.TypeVoucher, casegraphtest.Parent("rx1"), casegraphtest.Props(
		"voucher_type", cg.TypePrescription,
		"state", "fulfilled",
		"date_issued", "2017-01-01",
		"date_fulfilled", "2017-01-03",
		"final_prescription_num_days", "120",
	))
	g.Case("v2", cg.TypeVoucher, casegraphtest.Parent("rx1"), casegraphtest.Props(
		"voucher_type", cg.TypePrescription,
		"state", "fulfilled",
		"date_issued", "2017-05-01",
		"date_fulfilled", "2017-05-02",
		"final_prescription_num_days", "90",
	))
	return g
}

func TestVoucherUpdate_UpdateJSON(t *testing.T) {
	g := voucherGraph(t)
	up := NewVoucherUpdate(hierarchy.NewResolver(g.Store, casegraphtest.Domain), 0, 0)

	got, err := up.UpdateJSON(context.Background(), g.Get("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertProps(t, got, map[string]string{
		"prescription_total_days_threshold_30":  "2017-01-03",
		"prescription_total_days_threshold_120": "2017-01-03",
		// fdc episodes use the 168 day threshold
		BetsThresholdProperty:                   "2017-05-02",
		"date_last_refill":                      "2017-05-01",
		"refill_due_date":                       "2017-07-30",
		"first_voucher_generation_date":         "2017-01-01",
		"first_voucher_drugs":                   "HRZE",
		"first_voucher_validation_date":         "2017-01-03",
	})
	if _, ok := got["prescription_total_days"]; ok {
		t.Errorf("expected unchanged prescription_total_days to be omitted, got %v", got)
	}
	if up.Name() != "voucher" {
		t.Errorf("unexpected name %q", up.Name())
	}
}

func TestVoucherUpdate_NonFDCThreshold(t *testing.T) {
	g := voucherGraph(t)
	up := NewVoucherUpdate(hierarchy.NewResolver(g.Store, casegraphtest.Domain), 0, 250)

	episode := g.Get("e1")
	episode.Properties = episode.Properties.Merge(map[string]string{"treatment_options": "non_fdc"})
	got, err := up.UpdateJSON(context.Background(), episode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got[BetsThresholdProperty]; ok {
		t.Errorf("expected 210 days to stay below the 250 day threshold, got %v", got)
	}
}

func TestVoucherUpdate_ClosedPrescription(t *testing.T) {
	g := casegraphtest.New(t)
	g.Person("p1")
	g.Occurrence("o1", "p1")
	g.Episode("e1", "o1", "confirmed_tb")
	g.Case("rx1", cg.TypePrescription, casegraphtest.Parent("e1"), casegraphtest.Closed())
	g.Case("v1", cg.TypeVoucher, casegraphtest.Parent("rx1"), casegraphtest.Props(
		"voucher_type", cg.TypePrescription,
		"date_issued", "2017-01-01",
	))
	up := NewVoucherUpdate(hierarchy.NewResolver(g.Store, casegraphtest.Domain), 0, 0)

	got, err := up.UpdateJSON(context.Background(), g.Get("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["first_voucher_generation_date"]; ok {
		t.Errorf("expected no first voucher details for a closed prescription, got %v", got)
	}
	if got["prescription_total_days"] != "0" {
		t.Errorf("expected 0 prescription days, got %v", got)
	}
}
