package compliance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/apperr"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

// Source is the persistence the report builder reads from. An empty
// agencyID in Assignments means every agency.
type Source interface {
	Agencies(ctx context.Context) ([]model.Agency, error)
	Chefs(ctx context.Context) ([]model.Chef, error)
	Assignments(ctx context.Context, agencyID string, r model.DateRange) ([]model.Assignment, error)
}

// Row is one line of the supervisory dashboard.
type Row struct {
	Agency   model.Agency `json:"agency"`
	ChefName string       `json:"chef_name"`
	Label    string       `json:"label"`
	Report
}

// Filter narrows rows by case-insensitive substrings of the agency and chef names.
type Filter struct {
	Agency string
	Chef   string
}

func (f Filter) match(r Row) bool {
	return contains(r.Agency.Name, f.Agency) && contains(r.ChefName, f.Chef)
}

func contains(s, sub string) bool {
	return sub == "" || strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}

// Summary aggregates a set of rows.
type Summary struct {
	Range     model.DateRange `json:"range"`
	Rows      []Row           `json:"rows"`
	Agencies  int             `json:"agencies"`
	Compliant int             `json:"compliant"`
}

// Reporter builds compliance rows for every agency.
type Reporter struct {
	src Source
	log logger.Logger
}

// NewReporter creates a Reporter reading from src.
func NewReporter(src Source, log logger.Logger) *Reporter {
	if log == nil {
		log = logger.Get().Named("compliance")
	}
	return &Reporter{src: src, log: log}
}

// Build fetches agencies, chefs and assignments in parallel, scores every
// agency over r and returns the rows matching f ordered by agency name.
func (rp *Reporter) Build(ctx context.Context, r model.DateRange, f Filter) (Summary, error) {
	const op = "compliance.Build"
	started := time.Now()

	ctx, span := otel.Tracer("pointage/compliance").Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int("days", r.Len()))

	var (
		agencies    []model.Agency
		chefs       []model.Chef
		assignments []model.Assignment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agencies, err = rp.src.Agencies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		chefs, err = rp.src.Chefs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = rp.src.Assignments(gctx, "", r)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		metrics.RecordErrorByComponent("compliance", "gateway")
		rp.log.Error(ctx, "compliance inputs unavailable", logger.Error(err))
		return Summary{}, apperr.WrapKind(op, model.ErrLedgerUnavailable, err)
	}

	chefByAgency := make(map[string]string, len(chefs))
	for _, c := range chefs {
		if _, ok := chefByAgency[c.AgencyID]; !ok {
			chefByAgency[c.AgencyID] = c.FullName()
		}
	}
	byAgency := make(map[string][]model.Assignment, len(agencies))
	for _, a := range assignments {
		byAgency[a.AgencyID] = append(byAgency[a.AgencyID], a)
	}

	sum := Summary{Range: r, Rows: make([]Row, 0, len(agencies))}
	for _, ag := range agencies {
		row := Row{
			Agency:   ag,
			ChefName: chefByAgency[ag.ID],
			Report:   Compute(ag.ID, r, byAgency[ag.ID], ag.RequiredTerminals),
		}
		if row.ChefName == "" {
			row.ChefName = "N/A"
		}
		row.Label = fmt.Sprintf("%d%%", row.Percent)
		if !f.match(row) {
			continue
		}
		sum.Rows = append(sum.Rows, row)
		if row.Compliant {
			sum.Compliant++
		}
	}
	sort.Slice(sum.Rows, func(i, j int) bool { return sum.Rows[i].Agency.Name < sum.Rows[j].Agency.Name })
	sum.Agencies = len(sum.Rows)

	metrics.RecordComplianceDuration(float64(time.Since(started).Milliseconds()))
	metrics.UpdateCompliantAgencies(sum.Compliant)
	return sum, nil
}
