package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fablepress/storyforge/internal/storymodel"
)

const (
	maxConns        = 25
	minConns        = 5
	maxConnLifetime = 60 * time.Minute
	maxConnIdleTime = 10 * time.Minute
	connectTimeout  = 5 * time.Second
)

// Postgres is the production Store implementation: a pgx connection pool
// over a schema managed by golang-migrate.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres applies pending migrations and opens a tuned connection pool.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &Error{Op: "NewPostgres", Err: fmt.Errorf("invalid dsn: %w", err)}
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = maxConnLifetime
	cfg.MaxConnIdleTime = maxConnIdleTime
	cfg.ConnConfig.ConnectTimeout = connectTimeout

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, &Error{Op: "NewPostgres", Err: err, Transient: true}
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, &Error{Op: "NewPostgres", Err: err, Transient: true}
	}

	logger.Info("postgres pool connected", slog.Int("max_conns", int(cfg.MaxConns)))
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// classify reports whether err is worth retrying at the call site: mirrors
// the teacher's retryable-error classification, applied to pgx errors
// instead of HTTP transport errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Op: op, Err: ErrNotFound}
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "23505", "23503", "23514":
			return &Error{Op: op, Err: err, Transient: false}
		}
	}
	return &Error{Op: op, Err: err, Transient: true}
}

func (p *Postgres) CreatePremiseSet(ctx context.Context, set storymodel.PremiseSet) error {
	premises, _ := json.Marshal(set.Premises)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO premise_sets (id, user_id, premises, discarded, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		set.ID, set.UserID, premises, set.Discarded, set.CreatedAt)
	return classify("CreatePremiseSet", err)
}

func (p *Postgres) GetPremiseSet(ctx context.Context, id string) (storymodel.PremiseSet, error) {
	var set storymodel.PremiseSet
	var premises []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, premises, discarded, created_at FROM premise_sets WHERE id = $1`, id).
		Scan(&set.ID, &set.UserID, &premises, &set.Discarded, &set.CreatedAt)
	if err != nil {
		return storymodel.PremiseSet{}, classify("GetPremiseSet", err)
	}
	_ = json.Unmarshal(premises, &set.Premises)
	return set, nil
}

func (p *Postgres) DiscardPremiseSet(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE premise_sets SET discarded = TRUE WHERE id = $1`, id)
	if err != nil {
		return classify("DiscardPremiseSet", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: "DiscardPremiseSet", Err: ErrNotFound}
	}
	return nil
}

func (p *Postgres) CreateStory(ctx context.Context, s storymodel.Story) error {
	progress, _ := json.Marshal(s.Progress)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO stories (id, user_id, title, genre, status, generation_progress,
			bible_id, current_arc_id, series_id, book_number, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.UserID, s.Title, s.Genre, s.Status, progress,
		s.BibleID, s.CurrentArcID, s.SeriesID, s.BookNumber, s.CreatedAt, s.UpdatedAt)
	return classify("CreateStory", err)
}

func (p *Postgres) scanStory(row pgx.Row) (storymodel.Story, error) {
	var s storymodel.Story
	var progress []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.Genre, &s.Status, &progress,
		&s.BibleID, &s.CurrentArcID, &s.SeriesID, &s.BookNumber, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return storymodel.Story{}, err
	}
	_ = json.Unmarshal(progress, &s.Progress)
	return s, nil
}

const storyColumns = `id, user_id, title, genre, status, generation_progress,
	bible_id, current_arc_id, series_id, book_number, created_at, updated_at`

func (p *Postgres) GetStory(ctx context.Context, id string) (storymodel.Story, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id)
	s, err := p.scanStory(row)
	if err != nil {
		return storymodel.Story{}, classify("GetStory", err)
	}
	return s, nil
}

func (p *Postgres) UpdateStory(ctx context.Context, s storymodel.Story) error {
	progress, _ := json.Marshal(s.Progress)
	tag, err := p.pool.Exec(ctx, `
		UPDATE stories SET title=$2, genre=$3, status=$4, generation_progress=$5,
			bible_id=$6, current_arc_id=$7, series_id=$8, book_number=$9, updated_at=$10
		WHERE id = $1`,
		s.ID, s.Title, s.Genre, s.Status, progress, s.BibleID, s.CurrentArcID,
		s.SeriesID, s.BookNumber, s.UpdatedAt)
	if err != nil {
		return classify("UpdateStory", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: "UpdateStory", Err: ErrNotFound}
	}
	return nil
}

// CompareAndSwapProgress is the conditional UPDATE ... WHERE current_step = $1
// AND updated_at = $2 described in §5: it is the sole enforcement of
// single-writer progression between the orchestrator and the sweeper.
func (p *Postgres) CompareAndSwapProgress(ctx context.Context, storyID string, expectedStep storymodel.Step, expectedUpdatedAt time.Time, next storymodel.GenerationProgress) (bool, error) {
	progress, _ := json.Marshal(next)
	tag, err := p.pool.Exec(ctx, `
		UPDATE stories
		SET generation_progress = $4, updated_at = $5
		WHERE id = $1
		  AND generation_progress ->> 'current_step' = $2
		  AND updated_at = $3`,
		storyID, string(expectedStep), expectedUpdatedAt, progress, next.LastUpdated)
	if err != nil {
		return false, classify("CompareAndSwapProgress", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) PutBible(ctx context.Context, b storymodel.Bible) error {
	protagonist, _ := json.Marshal(b.Protagonist)
	antagonist, _ := json.Marshal(b.Antagonist)
	supporting, _ := json.Marshal(b.Supporting)
	worldRules, _ := json.Marshal(b.WorldRules)
	themes, _ := json.Marshal(b.Themes)
	locations, _ := json.Marshal(b.KeyLocations)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bibles (story_id, protagonist, antagonist, supporting, world_rules,
			central_conflict, stakes, themes, key_locations, timeline)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (story_id) DO UPDATE SET
			protagonist=$2, antagonist=$3, supporting=$4, world_rules=$5,
			central_conflict=$6, stakes=$7, themes=$8, key_locations=$9, timeline=$10`,
		b.StoryID, protagonist, antagonist, supporting, worldRules,
		b.CentralConflict, b.Stakes, themes, locations, b.Timeline)
	return classify("PutBible", err)
}

func (p *Postgres) GetBible(ctx context.Context, storyID string) (storymodel.Bible, error) {
	var b storymodel.Bible
	var protagonist, antagonist, supporting, worldRules, themes, locations []byte
	err := p.pool.QueryRow(ctx, `
		SELECT story_id, protagonist, antagonist, supporting, world_rules,
			central_conflict, stakes, themes, key_locations, timeline
		FROM bibles WHERE story_id = $1`, storyID).
		Scan(&b.StoryID, &protagonist, &antagonist, &supporting, &worldRules,
			&b.CentralConflict, &b.Stakes, &themes, &locations, &b.Timeline)
	if err != nil {
		return storymodel.Bible{}, classify("GetBible", err)
	}
	_ = json.Unmarshal(protagonist, &b.Protagonist)
	_ = json.Unmarshal(antagonist, &b.Antagonist)
	_ = json.Unmarshal(supporting, &b.Supporting)
	_ = json.Unmarshal(worldRules, &b.WorldRules)
	_ = json.Unmarshal(themes, &b.Themes)
	_ = json.Unmarshal(locations, &b.KeyLocations)
	return b, nil
}

func (p *Postgres) PutArc(ctx context.Context, a storymodel.Arc) error {
	chapters, _ := json.Marshal(a.Chapters)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO arcs (story_id, arc_number, chapters) VALUES ($1,$2,$3)
		ON CONFLICT (story_id) DO UPDATE SET arc_number=$2, chapters=$3`,
		a.StoryID, a.ArcNumber, chapters)
	return classify("PutArc", err)
}

func (p *Postgres) GetArc(ctx context.Context, storyID string) (storymodel.Arc, error) {
	var a storymodel.Arc
	var chapters []byte
	err := p.pool.QueryRow(ctx, `SELECT story_id, arc_number, chapters FROM arcs WHERE story_id = $1`, storyID).
		Scan(&a.StoryID, &a.ArcNumber, &chapters)
	if err != nil {
		return storymodel.Arc{}, classify("GetArc", err)
	}
	_ = json.Unmarshal(chapters, &a.Chapters)
	return a, nil
}

// CommitChapter inserts the chapter row and advances generation_progress in
// a single transaction, satisfying the atomic-pair requirement of §4.1.
func (p *Postgres) CommitChapter(ctx context.Context, ch storymodel.Chapter, next storymodel.GenerationProgress) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify("CommitChapter", err)
	}
	defer tx.Rollback(ctx)

	qualityReview, _ := json.Marshal(ch.QualityReview)
	constraintResult, _ := json.Marshal(ch.ConstraintResult)
	keyEvents, _ := json.Marshal(ch.KeyEvents)

	_, err = tx.Exec(ctx, `
		INSERT INTO chapters (id, story_id, chapter_number, title, content, word_count,
			quality_score, regeneration_count, quality_review, constraint_result,
			regeneration_state, opening_hook, closing_hook, key_events, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ch.ID, ch.StoryID, ch.ChapterNumber, ch.Title, ch.Content, ch.WordCount,
		ch.QualityScore, ch.RegenerationCount, qualityReview, constraintResult,
		ch.RegenerationState, ch.OpeningHook, ch.ClosingHook, keyEvents, ch.CreatedAt)
	if err != nil {
		return classify("CommitChapter", err)
	}

	progress, _ := json.Marshal(next)
	tag, err := tx.Exec(ctx, `UPDATE stories SET generation_progress=$2, updated_at=$3 WHERE id=$1`,
		ch.StoryID, progress, next.LastUpdated)
	if err != nil {
		return classify("CommitChapter", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: "CommitChapter", Err: ErrNotFound}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("CommitChapter", err)
	}
	return nil
}

const chapterColumns = `id, story_id, chapter_number, title, content, word_count,
	quality_score, regeneration_count, quality_review, constraint_result,
	regeneration_state, opening_hook, closing_hook, key_events, created_at`

func scanChapter(row pgx.Row) (storymodel.Chapter, error) {
	var ch storymodel.Chapter
	var qualityReview, constraintResult, keyEvents []byte
	err := row.Scan(&ch.ID, &ch.StoryID, &ch.ChapterNumber, &ch.Title, &ch.Content, &ch.WordCount,
		&ch.QualityScore, &ch.RegenerationCount, &qualityReview, &constraintResult,
		&ch.RegenerationState, &ch.OpeningHook, &ch.ClosingHook, &keyEvents, &ch.CreatedAt)
	if err != nil {
		return storymodel.Chapter{}, err
	}
	_ = json.Unmarshal(qualityReview, &ch.QualityReview)
	_ = json.Unmarshal(constraintResult, &ch.ConstraintResult)
	_ = json.Unmarshal(keyEvents, &ch.KeyEvents)
	return ch, nil
}

func (p *Postgres) GetChapter(ctx context.Context, storyID string, chapterNumber int) (storymodel.Chapter, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE story_id=$1 AND chapter_number=$2`,
		storyID, chapterNumber)
	ch, err := scanChapter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return storymodel.Chapter{}, false, nil
	}
	if err != nil {
		return storymodel.Chapter{}, false, classify("GetChapter", err)
	}
	return ch, true, nil
}

func (p *Postgres) ListChapters(ctx context.Context, storyID string, start, end int) ([]storymodel.Chapter, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+chapterColumns+` FROM chapters
		WHERE story_id=$1 AND chapter_number BETWEEN $2 AND $3 ORDER BY chapter_number`,
		storyID, start, end)
	if err != nil {
		return nil, classify("ListChapters", err)
	}
	defer rows.Close()

	var out []storymodel.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, classify("ListChapters", err)
		}
		out = append(out, ch)
	}
	return out, classify("ListChapters", rows.Err())
}

func (p *Postgres) CountChapters(ctx context.Context, storyID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chapters WHERE story_id=$1`, storyID).Scan(&n)
	if err != nil {
		return 0, classify("CountChapters", err)
	}
	return n, nil
}

func (p *Postgres) ReplaceChapterContent(ctx context.Context, chapterID string, content string, wordCount int) error {
	tag, err := p.pool.Exec(ctx, `UPDATE chapters SET content=$2, word_count=$3 WHERE id=$1`,
		chapterID, content, wordCount)
	if err != nil {
		return classify("ReplaceChapterContent", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Op: "ReplaceChapterContent", Err: ErrNotFound}
	}
	return nil
}

func (p *Postgres) PutChapterEntities(ctx context.Context, entities []storymodel.ChapterEntity) error {
	batch := &pgx.Batch{}
	for _, e := range entities {
		batch.Queue(`
			INSERT INTO chapter_entities (id, chapter_id, story_id, chapter_number,
				entity_type, entity_name, fact, source_quote, is_consistent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.ID, e.ChapterID, e.StoryID, e.ChapterNumber, e.EntityType, e.EntityName,
			e.Fact, e.SourceQuote, e.IsConsistent)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entities {
		if _, err := br.Exec(); err != nil {
			return classify("PutChapterEntities", err)
		}
	}
	return nil
}

func (p *Postgres) AppendCharacterLedger(ctx context.Context, entry storymodel.LedgerEntry) error {
	data, _ := json.Marshal(entry.Data)
	_, err := p.pool.Exec(ctx, `INSERT INTO character_ledger (story_id, chapter_number, data, created_at)
		VALUES ($1,$2,$3,$4)`, entry.StoryID, entry.ChapterNumber, data, entry.CreatedAt)
	return classify("AppendCharacterLedger", err)
}

func (p *Postgres) AppendWorldStateLedger(ctx context.Context, entry storymodel.LedgerEntry) error {
	data, _ := json.Marshal(entry.Data)
	_, err := p.pool.Exec(ctx, `INSERT INTO world_state_ledger (story_id, chapter_number, data, created_at)
		VALUES ($1,$2,$3,$4)`, entry.StoryID, entry.ChapterNumber, data, entry.CreatedAt)
	return classify("AppendWorldStateLedger", err)
}

func queryLedger(ctx context.Context, pool *pgxpool.Pool, table, storyID string) ([]storymodel.LedgerEntry, error) {
	rows, err := pool.Query(ctx, `SELECT story_id, chapter_number, data, created_at FROM `+table+`
		WHERE story_id=$1 ORDER BY chapter_number`, storyID)
	if err != nil {
		return nil, classify("ListLedger", err)
	}
	defer rows.Close()

	var out []storymodel.LedgerEntry
	for rows.Next() {
		var e storymodel.LedgerEntry
		var data []byte
		if err := rows.Scan(&e.StoryID, &e.ChapterNumber, &data, &e.CreatedAt); err != nil {
			return nil, classify("ListLedger", err)
		}
		_ = json.Unmarshal(data, &e.Data)
		out = append(out, e)
	}
	return out, classify("ListLedger", rows.Err())
}

func (p *Postgres) ListCharacterLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error) {
	return queryLedger(ctx, p.pool, "character_ledger", storyID)
}

func (p *Postgres) ListWorldStateLedger(ctx context.Context, storyID string) ([]storymodel.LedgerEntry, error) {
	return queryLedger(ctx, p.pool, "world_state_ledger", storyID)
}

func (p *Postgres) UpsertCheckpointFeedback(ctx context.Context, fb storymodel.CheckpointFeedback) error {
	dimension, _ := json.Marshal(fb.Dimension)
	freeForm, _ := json.Marshal(fb.FreeForm)
	voice, _ := json.Marshal(fb.Voice)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO checkpoint_feedback (user_id, story_id, checkpoint, kind, dimension, free_form, voice, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, story_id, checkpoint) DO UPDATE SET
			kind=$4, dimension=$5, free_form=$6, voice=$7, created_at=$8`,
		fb.UserID, fb.StoryID, fb.Checkpoint, fb.Kind, dimension, freeForm, voice, fb.CreatedAt)
	return classify("UpsertCheckpointFeedback", err)
}

func scanFeedback(row pgx.Row) (storymodel.CheckpointFeedback, error) {
	var fb storymodel.CheckpointFeedback
	var dimension, freeForm, voice []byte
	err := row.Scan(&fb.UserID, &fb.StoryID, &fb.Checkpoint, &fb.Kind, &dimension, &freeForm, &voice, &fb.CreatedAt)
	if err != nil {
		return storymodel.CheckpointFeedback{}, err
	}
	if len(dimension) > 0 && string(dimension) != "null" {
		fb.Dimension = &storymodel.DimensionFeedback{}
		_ = json.Unmarshal(dimension, fb.Dimension)
	}
	if len(freeForm) > 0 && string(freeForm) != "null" {
		fb.FreeForm = &storymodel.FreeFormFeedback{}
		_ = json.Unmarshal(freeForm, fb.FreeForm)
	}
	if len(voice) > 0 && string(voice) != "null" {
		fb.Voice = &storymodel.VoiceInterviewFeedback{}
		_ = json.Unmarshal(voice, fb.Voice)
	}
	return fb, nil
}

const feedbackColumns = `user_id, story_id, checkpoint, kind, dimension, free_form, voice, created_at`

func (p *Postgres) GetCheckpointFeedback(ctx context.Context, storyID string, checkpoint storymodel.Checkpoint) (storymodel.CheckpointFeedback, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM checkpoint_feedback
		WHERE story_id=$1 AND checkpoint=$2`, storyID, checkpoint)
	fb, err := scanFeedback(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return storymodel.CheckpointFeedback{}, false, nil
	}
	if err != nil {
		return storymodel.CheckpointFeedback{}, false, classify("GetCheckpointFeedback", err)
	}
	return fb, true, nil
}

func (p *Postgres) ListCheckpointFeedback(ctx context.Context, storyID string) ([]storymodel.CheckpointFeedback, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+feedbackColumns+` FROM checkpoint_feedback
		WHERE story_id=$1 ORDER BY created_at`, storyID)
	if err != nil {
		return nil, classify("ListCheckpointFeedback", err)
	}
	defer rows.Close()

	var out []storymodel.CheckpointFeedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, classify("ListCheckpointFeedback", err)
		}
		out = append(out, fb)
	}
	return out, classify("ListCheckpointFeedback", rows.Err())
}

func (p *Postgres) PutValidationResult(ctx context.Context, result storymodel.ValidationResult) error {
	issues, _ := json.Marshal(result.Issues)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO validation_results (chapter_id, issues) VALUES ($1,$2)
		ON CONFLICT (chapter_id) DO UPDATE SET issues=$2`, result.ChapterID, issues)
	return classify("PutValidationResult", err)
}

func (p *Postgres) AppendCostEntry(ctx context.Context, entry storymodel.CostEntry) error {
	context, _ := json.Marshal(entry.Context)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cost_ledger (user_id, operation, input_tokens, output_tokens, timestamp, context)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.UserID, entry.Operation, entry.InputTokens, entry.OutputTokens, entry.Timestamp, context)
	return classify("AppendCostEntry", err)
}

func (p *Postgres) ListStalledStories(ctx context.Context, staleBefore time.Time) ([]storymodel.Story, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+storyColumns+` FROM stories
		WHERE generation_progress ->> 'current_step' <> $1
		  AND generation_progress ->> 'current_step' NOT IN ($2, $3, $4)
		  AND (status = $5 OR (generation_progress ->> 'current_step' LIKE 'generating\_%' AND updated_at < $6))`,
		string(storymodel.StepPermanentlyFailed),
		string(storymodel.StepAwaitingChapter2Feedback),
		string(storymodel.StepAwaitingChapter5Feedback),
		string(storymodel.StepAwaitingChapter8Feedback),
		string(storymodel.StatusError),
		staleBefore)
	if err != nil {
		return nil, classify("ListStalledStories", err)
	}
	defer rows.Close()

	var out []storymodel.Story
	for rows.Next() {
		s, err := p.scanStory(rows)
		if err != nil {
			return nil, classify("ListStalledStories", err)
		}
		out = append(out, s)
	}
	return out, classify("ListStalledStories", rows.Err())
}
