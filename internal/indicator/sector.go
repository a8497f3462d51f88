package indicator

import (
	"context"

	"regime-backtest-lab/internal/domain"
)

// Sector labels and columns.
const (
	LabelSectorID        = "sector.sector_id"
	LabelSectorName      = "sector.sector_name"
	LabelSectorRole      = "sector.role"
	ColumnSectorLeader   = "sector.is_leader"
	ColumnSectorFollower = "sector.is_follower"
	ColumnSectorPriority = "sector.priority"
)

// Sector roles.
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// unrankedPriority is the priority of instruments outside every sector.
const unrankedPriority = 999

// SectorInfo is one instrument's sector membership.
type SectorInfo struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Role     string `yaml:"role" json:"role"` // leader or follower
	Priority int    `yaml:"priority" json:"priority"`
}

// Sector tags bars with the instrument's sector. The sector id also goes
// into the "sector" label read by the risk gate. Unmapped instruments get
// no labels and priority 999.
type Sector struct {
	Mapping map[string]SectorInfo // keyed by instrument
}

// Name implements Provider.
func (p Sector) Name() string { return "sector" }

// Compute implements Provider.
func (p Sector) Compute(_ context.Context, s *domain.Series, _ domain.StrategyParams) (*domain.Series, error) {
	info, ok := p.Mapping[s.Instrument]

	values := map[string]float64{
		ColumnSectorLeader:   0,
		ColumnSectorFollower: 0,
		ColumnSectorPriority: unrankedPriority,
	}
	var labels map[string]string
	if ok {
		values[ColumnSectorLeader] = boolFloat(info.Role == RoleLeader)
		values[ColumnSectorFollower] = boolFloat(info.Role == RoleFollower)
		values[ColumnSectorPriority] = float64(info.Priority)
		labels = map[string]string{
			domain.LabelSector: info.ID,
			LabelSectorID:      info.ID,
			LabelSectorName:    info.Name,
			LabelSectorRole:    info.Role,
		}
	}

	out := &domain.Series{Instrument: s.Instrument, Bars: make([]domain.Bar, s.Len())}
	for i, b := range s.Bars {
		b = b.WithIndicators(values)
		if labels != nil {
			b = b.WithLabels(labels)
		}
		out.Bars[i] = b
	}
	return out, nil
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

var _ Provider = Sector{}
