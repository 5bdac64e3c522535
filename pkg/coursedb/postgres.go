package coursedb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the database interface used by [PostgresReader]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresReader is a [Reader] backed by a PostgreSQL database. It issues
// read-only queries against the three course content tables; the schema
// itself is owned and migrated upstream, outside this package's scope.
type PostgresReader struct {
	db DB
}

// NewPostgresReader creates a new [PostgresReader] over db.
func NewPostgresReader(db DB) *PostgresReader {
	return &PostgresReader{db: db}
}

var _ Reader = (*PostgresReader)(nil)

// ListLegos implements LegoSource.
func (r *PostgresReader) ListLegos(ctx context.Context, courseCode string, startSeed, endSeed int) ([]Lego, error) {
	const query = `
		SELECT course_code, seed_number, lego_index, known_text, target_text, type, is_new
		FROM course_legos
		WHERE course_code = $1 AND seed_number BETWEEN $2 AND $3
		ORDER BY seed_number ASC, lego_index ASC`

	rows, err := r.db.Query(ctx, query, courseCode, startSeed, endSeed)
	if err != nil {
		return nil, fmt.Errorf("coursedb: list legos: %w", err)
	}
	defer rows.Close()

	var out []Lego
	for rows.Next() {
		var l Lego
		var typ string
		if err := rows.Scan(&l.CourseCode, &l.SeedNumber, &l.LegoIndex, &l.KnownText, &l.TargetText, &typ, &l.IsNew); err != nil {
			return nil, fmt.Errorf("coursedb: scan lego: %w", err)
		}
		l.Type = LegoType(typ)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coursedb: list legos: %w", err)
	}
	return out, nil
}

// ListPhrases implements PhraseSource.
func (r *PostgresReader) ListPhrases(ctx context.Context, courseCode string, seedNumber, legoIndex int) ([]PracticePhrase, error) {
	const query = `
		SELECT course_code, seed_number, lego_index, position, phrase_role,
		       known_text, target_text, target_syllable_count
		FROM course_practice_phrases
		WHERE course_code = $1 AND seed_number = $2 AND lego_index = $3
		ORDER BY position ASC`

	rows, err := r.db.Query(ctx, query, courseCode, seedNumber, legoIndex)
	if err != nil {
		return nil, fmt.Errorf("coursedb: list phrases: %w", err)
	}
	defer rows.Close()

	var out []PracticePhrase
	for rows.Next() {
		var p PracticePhrase
		var role string
		if err := rows.Scan(&p.CourseCode, &p.SeedNumber, &p.LegoIndex, &p.Position, &role,
			&p.KnownText, &p.TargetText, &p.TargetSyllableCount); err != nil {
			return nil, fmt.Errorf("coursedb: scan phrase: %w", err)
		}
		p.Role = PhraseRole(role)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coursedb: list phrases: %w", err)
	}
	return out, nil
}

// ListAudioForCourse implements AudioSource.
func (r *PostgresReader) ListAudioForCourse(ctx context.Context, courseCode string) ([]AudioRow, error) {
	const query = `
		SELECT id, text_normalized, role, COALESCE(lego_id, ''), course_code
		FROM course_audio
		WHERE course_code = $1`

	rows, err := r.db.Query(ctx, query, courseCode)
	if err != nil {
		return nil, fmt.Errorf("coursedb: list audio: %w", err)
	}
	defer rows.Close()

	var out []AudioRow
	for rows.Next() {
		var a AudioRow
		var role string
		if err := rows.Scan(&a.ID, &a.TextNormalized, &role, &a.LegoID, &a.CourseCode); err != nil {
			return nil, fmt.Errorf("coursedb: scan audio: %w", err)
		}
		a.Role = AudioRole(role)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coursedb: list audio: %w", err)
	}
	return out, nil
}
