package visitors

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// upsertSQL relies on idx_visitor_identity. created_at is only written on insert.
const upsertSQL = `
INSERT INTO visitors (ip_address, project_name, user_agent, browser, device, location, last_visit, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (ip_address, project_name) DO UPDATE SET
	user_agent = excluded.user_agent,
	browser    = excluded.browser,
	device     = excluded.device,
	location   = excluded.location,
	last_visit = excluded.last_visit,
	updated_at = excluded.updated_at`

// Filter narrows visitor queries. Empty fields and the AllProjects/"All"
// sentinel are ignored. From and To are inclusive bounds on last_visit.
type Filter struct {
	ProjectName string
	IPAddress   string
	Browser     string
	Device      string
	Location    string
	From        *time.Time
	To          *time.Time
}

// Apply adds the filter's conditions to a query on the visitors table.
func (f Filter) Apply(db *gorm.DB) *gorm.DB {
	for column, value := range map[string]string{
		"project_name": f.ProjectName,
		"browser":      f.Browser,
		"device":       f.Device,
		"location":     f.Location,
	} {
		if value != "" && value != AllProjects {
			db = db.Where(column+" = ?", value)
		}
	}
	if f.IPAddress != "" {
		db = db.Where("ip_address = ?", f.IPAddress)
	}
	if f.From != nil {
		db = db.Where("last_visit >= ?", f.From.UTC())
	}
	if f.To != nil {
		db = db.Where("last_visit <= ?", f.To.UTC())
	}
	return db
}

// Store persists visitors in SQLite. All writes go through sqlite.PerformWrite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the connection for read-only aggregation.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Upsert creates the record for id or overwrites its enrichment and last
// visit, then returns the stored row and the project's visitor count as seen
// inside the same transaction.
func (s *Store) Upsert(ctx context.Context, id Identity, e Enrichment, now time.Time) (*Visitor, int64, error) {
	e = e.orUnknown()
	now = now.UTC()

	var (
		visitor Visitor
		count   int64
	)
	err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Exec(upsertSQL,
			id.IPAddress, id.ProjectName,
			e.UserAgent, e.Browser, e.Device, e.Location,
			now, now, now,
		).Error; err != nil {
			return err
		}
		if err := tx.Where("ip_address = ? AND project_name = ?", id.IPAddress, id.ProjectName).
			First(&visitor).Error; err != nil {
			return err
		}
		return tx.Model(&Visitor{}).Where("project_name = ?", id.ProjectName).Count(&count).Error
	})
	if err != nil {
		return nil, 0, storeErr("upsert", err)
	}
	return &visitor, count, nil
}

// FindByIdentity returns the record for id or a *VisitorNotFoundError.
func (s *Store) FindByIdentity(ctx context.Context, id Identity) (*Visitor, error) {
	var v Visitor
	err := s.db.WithContext(ctx).
		Where("ip_address = ? AND project_name = ?", id.IPAddress, id.ProjectName).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &VisitorNotFoundError{Field: "identity", Value: id.String()}
	}
	if err != nil {
		return nil, storeErr("find by identity", err)
	}
	return &v, nil
}

func (s *Store) FindByID(ctx context.Context, id uint) (*Visitor, error) {
	var v Visitor
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &VisitorNotFoundError{Field: "id", Value: strconv.FormatUint(uint64(id), 10)}
	}
	if err != nil {
		return nil, storeErr("find by id", err)
	}
	return &v, nil
}

// FindByIP returns every project record for an address.
func (s *Store) FindByIP(ctx context.Context, ip string) ([]Visitor, error) {
	if ip == "" {
		return nil, ErrInvalidIdentity
	}
	visitors, err := s.Find(ctx, Filter{IPAddress: ip}, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(visitors) == 0 {
		return nil, &VisitorNotFoundError{Field: "ip address", Value: ip}
	}
	return visitors, nil
}

// List returns all visitors, most recent first.
func (s *Store) List(ctx context.Context) ([]Visitor, error) {
	return s.Find(ctx, Filter{}, 0, 0)
}

// Count returns the number of records matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := f.Apply(s.db.WithContext(ctx).Model(&Visitor{})).Count(&n).Error; err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// Find pages through matching records ordered by last visit descending.
// A zero limit returns everything from offset on.
func (s *Store) Find(ctx context.Context, f Filter, offset, limit int) ([]Visitor, error) {
	q := f.Apply(s.db.WithContext(ctx).Model(&Visitor{})).Order("last_visit DESC").Order("id DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	visitors := []Visitor{}
	if err := q.Find(&visitors).Error; err != nil {
		return nil, storeErr("find", err)
	}
	return visitors, nil
}

// Update edits enrichment fields only. The identity and timestamps of the
// visit itself are left alone.
func (s *Store) Update(ctx context.Context, id uint, u VisitorUpdate) (*Visitor, error) {
	cols := u.columns()
	if len(cols) > 0 {
		cols["updated_at"] = time.Now().UTC()
		var affected int64
		err := sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
			res := tx.Model(&Visitor{}).Where("id = ?", id).Updates(cols)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, storeErr("update", err)
		}
		if affected == 0 {
			return nil, &VisitorNotFoundError{Field: "id", Value: strconv.FormatUint(uint64(id), 10)}
		}
	}
	return s.FindByID(ctx, id)
}

// Delete removes a visitor by id and returns the removed record.
func (s *Store) Delete(ctx context.Context, id uint) (*Visitor, error) {
	v, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var affected int64
	err = sqlite.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		res := tx.Delete(&Visitor{}, id)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return nil, storeErr("delete", err)
	}
	if affected == 0 {
		return nil, &VisitorNotFoundError{Field: "id", Value: strconv.FormatUint(uint64(id), 10)}
	}
	return v, nil
}
