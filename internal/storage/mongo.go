package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type mongoStore struct {
	client    *mongo.Client
	reminders *mongo.Collection
	leases    *mongo.Collection
	audit     *mongo.Collection
	opTimeout time.Duration
	log       logx.Logger
}

type spanDoc struct {
	Offset int    `bson:"offset"`
	Length int    `bson:"length"`
	Style  string `bson:"style"`
	URL    string `bson:"url,omitempty"`
}

type scheduleDoc struct {
	Kind        string `bson:"kind"`
	Minutes     int    `bson:"minutes,omitempty"`
	Step        int    `bson:"step,omitempty"`
	Weekdays    []int  `bson:"weekdays,omitempty"`
	AnchorMonth int    `bson:"anchor_month,omitempty"`
	AnchorDay   int    `bson:"anchor_day,omitempty"`
	TimeOfDay   string `bson:"time_of_day,omitempty"`
}

type lockDoc struct {
	OwnerID    string    `bson:"owner_id"`
	AcquiredAt time.Time `bson:"acquired_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

type reminderDoc struct {
	ID        string      `bson:"_id"`
	OwnerChat int64       `bson:"owner_chat"`
	ThreadID  int         `bson:"thread_id"`
	Text      string      `bson:"text"`
	Spans     []spanDoc   `bson:"spans,omitempty"`
	Timezone  string      `bson:"timezone"`
	Schedule  scheduleDoc `bson:"schedule"`
	Status    string      `bson:"status"`
	NextRunAt *time.Time  `bson:"next_run_at"`
	LastRunAt *time.Time  `bson:"last_run_at"`
	Lock      *lockDoc    `bson:"lock"`
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

type leaseDoc struct {
	Key        string    `bson:"_id"`
	OwnerID    string    `bson:"owner_id"`
	AcquiredAt time.Time `bson:"acquired_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

type auditDoc struct {
	At         time.Time `bson:"at"`
	ActorID    int64     `bson:"actor_id"`
	ChatID     int64     `bson:"chat_id"`
	Action     string    `bson:"action"`
	ReminderID string    `bson:"reminder_id"`
	OK         bool      `bson:"ok"`
	Error      string    `bson:"err,omitempty"`
	Meta       string    `bson:"meta,omitempty"`
}

func openMongo(cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("storage.uri is required for mongo driver")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = "remindbot"
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(dbName)
	s := &mongoStore{
		client:    client,
		reminders: db.Collection("reminders"),
		leases:    db.Collection("leases"),
		audit:     db.Collection("audit"),
		opTimeout: opTimeout,
		log:       log,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Debug("mongo store opened", logx.String("db", dbName))
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.reminders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_run_at", Value: 1}}},
		{Keys: bson.D{{Key: "owner_chat", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (s *mongoStore) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *mongoStore) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	if r == nil {
		return errors.New("nil reminder")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = reminder.StatusScheduled
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.reminders.InsertOne(ctx, toDoc(*r))
	return err
}

func (s *mongoStore) GetReminder(ctx context.Context, id string) (reminder.Reminder, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var d reminderDoc
	err := s.reminders.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return reminder.Reminder{}, ErrNotFound
	}
	if err != nil {
		return reminder.Reminder{}, err
	}
	return fromDoc(d), nil
}

func (s *mongoStore) ListReminders(ctx context.Context, ownerChat int64, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{}
	if ownerChat != 0 {
		filter["owner_chat"] = ownerChat
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	return s.find(ctx, filter, opts)
}

func (s *mongoStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 25
	}
	filter := bson.M{
		"status":      string(reminder.StatusScheduled),
		"next_run_at": bson.M{"$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "next_run_at", Value: 1}}).SetLimit(int64(limit))
	return s.find(ctx, filter, opts)
}

func (s *mongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]reminder.Reminder, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	cur, err := s.reminders.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []reminderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]reminder.Reminder, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDoc(d))
	}
	return out, nil
}

func (s *mongoStore) UpdateReminderState(ctx context.Context, id string, u StateUpdate) (bool, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	filter := bson.M{"_id": id}
	if u.OwnerChat != 0 {
		filter["owner_chat"] = u.OwnerChat
	}
	if u.LockOwner != "" {
		filter["lock.owner_id"] = u.LockOwner
	}
	set := bson.M{
		"status":      string(u.Status),
		"next_run_at": u.NextRunAt,
		"updated_at":  at,
	}
	if u.LastRunAt != nil {
		set["last_run_at"] = *u.LastRunAt
	}
	return s.updateOne(ctx, filter, bson.M{"$set": set})
}

func (s *mongoStore) CancelReminder(ctx context.Context, id string, ownerChat int64) (bool, error) {
	filter := bson.M{"_id": id, "status": string(reminder.StatusScheduled)}
	if ownerChat != 0 {
		filter["owner_chat"] = ownerChat
	}
	return s.updateOne(ctx, filter, bson.M{"$set": bson.M{
		"status":     string(reminder.StatusCancelled),
		"updated_at": time.Now(),
	}})
}

func (s *mongoStore) LockReminder(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lock": nil},
			bson.M{"lock.expires_at": bson.M{"$lte": now}},
			bson.M{"lock.owner_id": owner},
		},
	}
	update := bson.M{"$set": bson.M{"lock": lockDoc{OwnerID: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}}}
	return s.updateOne(ctx, filter, update)
}

func (s *mongoStore) UnlockReminder(ctx context.Context, id, owner string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.reminders.UpdateOne(ctx,
		bson.M{"_id": id, "lock.owner_id": owner},
		bson.M{"$set": bson.M{"lock": nil}},
	)
	return err
}

func (s *mongoStore) AcquireLease(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	filter := bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{"owner_id": owner},
		},
	}
	update := bson.M{"$set": bson.M{"owner_id": owner, "acquired_at": now, "expires_at": now.Add(ttl)}}
	res, err := s.leases.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// The filter missed an existing, foreign, unexpired lease and the upsert collided on _id.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.MatchedCount == 1 || res.UpsertedCount == 1, nil
}

func (s *mongoStore) ReleaseLease(ctx context.Context, key, owner string, now time.Time) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.leases.UpdateOne(ctx,
		bson.M{"_id": key, "owner_id": owner, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"expires_at": now}},
	)
	return err
}

func (s *mongoStore) GetLease(ctx context.Context, key string) (Lease, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var d leaseDoc
	err := s.leases.FindOne(ctx, bson.M{"_id": key}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Lease{}, ErrNotFound
	}
	if err != nil {
		return Lease{}, err
	}
	return Lease(d), nil
}

func (s *mongoStore) PruneLeases(ctx context.Context, expiredBefore time.Time) (int64, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := s.leases.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": expiredBefore}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.audit.InsertOne(ctx, auditDoc(e))
	return err
}

func (s *mongoStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	st := Stats{ByStatus: map[reminder.Status]int64{}}
	for _, status := range []reminder.Status{reminder.StatusScheduled, reminder.StatusSent, reminder.StatusCancelled} {
		n, err := s.reminders.CountDocuments(ctx, bson.M{"status": string(status)})
		if err != nil {
			return st, err
		}
		st.ByStatus[status] = n
	}
	now := time.Now()
	due, err := s.reminders.CountDocuments(ctx, bson.M{
		"status":      string(reminder.StatusScheduled),
		"next_run_at": bson.M{"$lte": now},
	})
	if err != nil {
		return st, err
	}
	st.Due = due
	leases, err := s.leases.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$gt": now}})
	if err != nil {
		return st, err
	}
	st.Leases = leases
	return st, nil
}

func (s *mongoStore) updateOne(ctx context.Context, filter, update any) (bool, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	res, err := s.reminders.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func toDoc(r reminder.Reminder) reminderDoc {
	d := reminderDoc{
		ID:        r.ID,
		OwnerChat: r.OwnerChat,
		ThreadID:  r.ThreadID,
		Text:      r.Content.Text,
		Timezone:  r.Timezone,
		Schedule: scheduleDoc{
			Kind:        string(r.Schedule.Kind),
			Minutes:     r.Schedule.Minutes,
			Step:        r.Schedule.Step,
			AnchorMonth: r.Schedule.AnchorMonth,
			AnchorDay:   r.Schedule.AnchorDay,
			TimeOfDay:   r.Schedule.TimeOfDay,
		},
		Status:    string(r.Status),
		NextRunAt: r.NextRunAt,
		LastRunAt: r.LastRunAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, sp := range r.Content.Spans {
		d.Spans = append(d.Spans, spanDoc(sp))
	}
	for _, wd := range r.Schedule.Weekdays {
		d.Schedule.Weekdays = append(d.Schedule.Weekdays, int(wd))
	}
	return d
}

func fromDoc(d reminderDoc) reminder.Reminder {
	r := reminder.Reminder{
		ID:        d.ID,
		OwnerChat: d.OwnerChat,
		ThreadID:  d.ThreadID,
		Content:   reminder.Content{Text: d.Text},
		Timezone:  d.Timezone,
		Schedule: reminder.Schedule{
			Kind:        reminder.Kind(d.Schedule.Kind),
			Minutes:     d.Schedule.Minutes,
			Step:        d.Schedule.Step,
			AnchorMonth: d.Schedule.AnchorMonth,
			AnchorDay:   d.Schedule.AnchorDay,
			TimeOfDay:   d.Schedule.TimeOfDay,
		},
		Status:    reminder.Status(d.Status),
		NextRunAt: d.NextRunAt,
		LastRunAt: d.LastRunAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, sp := range d.Spans {
		r.Content.Spans = append(r.Content.Spans, reminder.Span(sp))
	}
	for _, wd := range d.Schedule.Weekdays {
		r.Schedule.Weekdays = append(r.Schedule.Weekdays, time.Weekday(wd))
	}
	if d.Lock != nil {
		r.Lock = &reminder.Lock{OwnerID: d.Lock.OwnerID, AcquiredAt: d.Lock.AcquiredAt, ExpiresAt: d.Lock.ExpiresAt}
	}
	return r
}
