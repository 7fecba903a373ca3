package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"settlement-engine/internal/models"
	"settlement-engine/internal/money"
)

// ConfigurationRepository stores versioned per-client settlement rules.
// Rows are append-only; supersession happens at lookup time by taking
// the latest effective row.
type ConfigurationRepository interface {
	Create(ctx context.Context, cfg *models.SettlementConfiguration) error
	GetEffective(ctx context.Context, clientID string, asOf time.Time) (*models.SettlementConfiguration, error)
	ListClientIDs(ctx context.Context) ([]string, error)
	ListForClient(ctx context.Context, clientID string) ([]*models.SettlementConfiguration, error)
}

type configurationRepository struct {
	db *sql.DB
}

func NewConfigurationRepository(db *sql.DB) ConfigurationRepository {
	return &configurationRepository{db: db}
}

func (r *configurationRepository) Create(ctx context.Context, cfg *models.SettlementConfiguration) error {
	query := `
		INSERT INTO settlement_configurations (
			config_id, client_id, cycle, fee_percentage, fixed_fee_minor,
			min_fee_minor, max_fee_minor, gst_percentage, auto_settle,
			partial_settlement, tolerance_minor, min_settlement_minor,
			currency, effective_from
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		cfg.ConfigID,
		cfg.ClientID,
		string(cfg.Cycle),
		cfg.FeePercentage.String(),
		nullMinor(cfg.FixedFee),
		nullMinor(cfg.MinFee),
		nullMinor(cfg.MaxFee),
		cfg.GSTPercentage.String(),
		cfg.AutoSettle,
		cfg.PartialSettlement,
		nullMinor(cfg.Tolerance),
		nullMinor(cfg.MinSettlementAmount),
		configCurrency(cfg),
		cfg.EffectiveFrom,
	)
	return err
}

// GetEffective resolves the configuration in force for a client as of
// the given instant: the latest row with effective_from <= asOf.
func (r *configurationRepository) GetEffective(ctx context.Context, clientID string, asOf time.Time) (*models.SettlementConfiguration, error) {
	query := `
		SELECT config_id, client_id, cycle, fee_percentage, fixed_fee_minor,
		       min_fee_minor, max_fee_minor, gst_percentage, auto_settle,
		       partial_settlement, tolerance_minor, min_settlement_minor,
		       currency, effective_from, created_at
		FROM settlement_configurations
		WHERE client_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC, created_at DESC
		LIMIT 1
	`
	cfg, err := scanConfiguration(r.db.QueryRowContext(ctx, query, clientID, asOf))
	if err == sql.ErrNoRows {
		return nil, ErrConfigurationMissing
	}
	return cfg, err
}

func (r *configurationRepository) ListClientIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT client_id FROM settlement_configurations ORDER BY client_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *configurationRepository) ListForClient(ctx context.Context, clientID string) ([]*models.SettlementConfiguration, error) {
	query := `
		SELECT config_id, client_id, cycle, fee_percentage, fixed_fee_minor,
		       min_fee_minor, max_fee_minor, gst_percentage, auto_settle,
		       partial_settlement, tolerance_minor, min_settlement_minor,
		       currency, effective_from, created_at
		FROM settlement_configurations
		WHERE client_id = ?
		ORDER BY effective_from DESC
	`
	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cfgs []*models.SettlementConfiguration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, rows.Err()
}

func scanConfiguration(row rowScanner) (*models.SettlementConfiguration, error) {
	var (
		cfg        models.SettlementConfiguration
		cycle      string
		feePct     string
		gstPct     string
		fixedFee   sql.NullInt64
		minFee     sql.NullInt64
		maxFee     sql.NullInt64
		tolerance  sql.NullInt64
		minSettle  sql.NullInt64
		currency   string
	)
	err := row.Scan(
		&cfg.ConfigID,
		&cfg.ClientID,
		&cycle,
		&feePct,
		&fixedFee,
		&minFee,
		&maxFee,
		&gstPct,
		&cfg.AutoSettle,
		&cfg.PartialSettlement,
		&tolerance,
		&minSettle,
		&currency,
		&cfg.EffectiveFrom,
		&cfg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Cycle = models.Cycle(cycle)
	if cfg.FeePercentage, err = decimal.NewFromString(feePct); err != nil {
		return nil, err
	}
	if cfg.GSTPercentage, err = decimal.NewFromString(gstPct); err != nil {
		return nil, err
	}
	cfg.FixedFee = optionalMoney(fixedFee, currency)
	cfg.MinFee = optionalMoney(minFee, currency)
	cfg.MaxFee = optionalMoney(maxFee, currency)
	cfg.Tolerance = optionalMoney(tolerance, currency)
	cfg.MinSettlementAmount = optionalMoney(minSettle, currency)
	return &cfg, nil
}

func nullMinor(m *money.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Amount(), Valid: true}
}

func optionalMoney(v sql.NullInt64, currency string) *money.Money {
	if !v.Valid {
		return nil
	}
	m := money.New(v.Int64, currency)
	return &m
}

func configCurrency(cfg *models.SettlementConfiguration) string {
	for _, m := range []*money.Money{cfg.FixedFee, cfg.MinFee, cfg.MaxFee, cfg.Tolerance, cfg.MinSettlementAmount} {
		if m != nil {
			return m.Currency()
		}
	}
	return "INR"
}
