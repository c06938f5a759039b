package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"donatrack/services/ledger"
)

var columns = []string{
	"id", "date", "donor_name", "donor_phone", "donor_email", "amount",
	"purpose", "payment_method", "category", "operator", "notes",
}

// WriteCSV writes one header row and one row per donation.
func WriteCSV(w io.Writer, donations []ledger.Donation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, d := range donations {
		email := ""
		if d.DonorEmail != nil {
			email = *d.DonorEmail
		}
		category := ""
		if d.Category != nil {
			category = d.Category.Name
		}
		operator := d.OperatorID.String()
		if d.Operator != nil {
			operator = d.Operator.Name
		}

		row := []string{
			d.ID.String(),
			d.Date.UTC().Format(time.RFC3339),
			d.DonorName,
			d.DonorPhone,
			email,
			d.Amount.StringFixed(2),
			d.Purpose,
			string(d.PaymentMethod),
			category,
			operator,
			d.Notes,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", d.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func describeFilter(f ledger.DonationFilter) []string {
	var out []string
	if f.StartDate != nil {
		out = append(out, "start_date="+f.StartDate.UTC().Format(time.RFC3339))
	}
	if f.EndDate != nil {
		out = append(out, "end_date="+f.EndDate.UTC().Format(time.RFC3339))
	}
	if f.MinAmount != nil {
		out = append(out, "min_amount="+f.MinAmount.String())
	}
	if f.MaxAmount != nil {
		out = append(out, "max_amount="+f.MaxAmount.String())
	}
	if f.Purpose != "" {
		out = append(out, "purpose="+f.Purpose)
	}
	if f.PaymentMethod != "" {
		out = append(out, "payment_method="+string(f.PaymentMethod))
	}
	if f.OperatorID != nil {
		out = append(out, "operator_id="+f.OperatorID.String())
	}
	if f.CategoryID != nil {
		out = append(out, "category_id="+f.CategoryID.String())
	}
	if f.Search != "" {
		out = append(out, "search="+f.Search)
	}
	return out
}
