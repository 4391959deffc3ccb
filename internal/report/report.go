package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/seenimoa/termstructure/internal/acm"
	"github.com/seenimoa/termstructure/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Text summary
// ════════════════════════════════════════════════════════════════════

const summaryHeader = "\U0001F1F5\U0001F1F1 PLN Sovereign curve modelling 📊"

// Summary renders the latest risk-neutral rate and term premium for each
// maturity. Maturities the result does not carry are left out.
func Summary(res *acm.Result, maturities []int) string {
	var rn, tp []string
	for _, m := range maturities {
		p, ok := res.Latest(m)
		if !ok {
			continue
		}
		rn = append(rn, fmt.Sprintf("%s %s", utils.FormatTenor(m), utils.FormatRatePct(p.RiskNeutral)))
		tp = append(tp, fmt.Sprintf("%s %s", utils.FormatTenor(m), utils.FormatRatePct(p.TermPremium)))
	}

	var sb strings.Builder
	sb.WriteString(summaryHeader + "\n\n")
	sb.WriteString("⚖️ Risk-Neutral rates\n")
	sb.WriteString(strings.Join(rn, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString("⏳ Term Premium\n")
	sb.WriteString(strings.Join(tp, "\n"))
	return sb.String()
}

// Charts renders both chart grids and returns their paths in posting order.
func Charts(res *acm.Result, today time.Time, cfg ChartConfig) ([]string, error) {
	rn, err := RiskNeutralChart(res, today, cfg)
	if err != nil {
		return nil, err
	}
	tp, err := TermPremiumChart(res, today, cfg)
	if err != nil {
		return nil, err
	}
	return []string{rn, tp}, nil
}
