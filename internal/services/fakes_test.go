package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

// In-memory fakes for the repository and infrastructure interfaces,
// shared by the service tests.

type fakeUserRepo struct {
	users  map[int]types.User
	nextID int
}

func newFakeUserRepo(users ...types.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[int]types.User)}
	for _, user := range users {
		repo.users[user.ID] = user
		if user.ID > repo.nextID {
			repo.nextID = user.ID
		}
	}
	return repo
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) UpdateRole(ctx context.Context, id int, role string) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Role = role
	r.users[id] = user
	return nil
}

func (r *fakeUserRepo) ListByRole(ctx context.Context, role string) ([]types.User, error) {
	return r.listWhere(func(u types.User) bool { return u.Role == role }), nil
}

func (r *fakeUserRepo) ListByDigest(ctx context.Context, digest string) ([]types.User, error) {
	return r.listWhere(func(u types.User) bool { return u.EmailDigest == digest }), nil
}

func (r *fakeUserRepo) listWhere(match func(types.User) bool) []types.User {
	var out []types.User
	for _, user := range r.users {
		if match(user) {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeLedger struct {
	balances map[int]int
	txs      []types.CreditTransaction
	nextID   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[int]int)}
}

func (l *fakeLedger) Credit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string) (types.CreditTransaction, error) {
	l.balances[userID] += amount
	return l.record(userID, amount, kind, description, 0), nil
}

func (l *fakeLedger) Debit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string, fileID int) (types.CreditTransaction, error) {
	if l.balances[userID] < amount {
		return types.CreditTransaction{}, &store.InsufficientCreditsError{
			Balance:  l.balances[userID],
			Required: amount,
		}
	}
	l.balances[userID] -= amount
	return l.record(userID, -amount, kind, description, fileID), nil
}

func (l *fakeLedger) record(userID, amount int, kind types.TransactionKind, description string, fileID int) types.CreditTransaction {
	l.nextID++
	tx := types.CreditTransaction{
		ID:          l.nextID,
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		FileID:      fileID,
		CreatedAt:   time.Now(),
	}
	l.txs = append(l.txs, tx)
	return tx
}

func (l *fakeLedger) ListByUser(ctx context.Context, userID int) ([]types.CreditTransaction, error) {
	var out []types.CreditTransaction
	for i := len(l.txs) - 1; i >= 0; i-- {
		if l.txs[i].UserID == userID {
			out = append(out, l.txs[i])
		}
	}
	return out, nil
}

func (l *fakeLedger) Balance(ctx context.Context, userID int) (int, error) {
	return l.balances[userID], nil
}

func (l *fakeLedger) TransactionSum(ctx context.Context, userID int) (int, error) {
	sum := 0
	for _, tx := range l.txs {
		if tx.UserID == userID {
			sum += tx.Amount
		}
	}
	return sum, nil
}

// fakeFileRepo mirrors the store behavior the services depend on: the
// submission debit happens together with the insert, and status changes
// append history entries.
type fakeFileRepo struct {
	ledger   *fakeLedger
	files    map[int]types.EcuFile
	history  map[int][]types.StatusEntry
	comments map[int][]types.Comment
	nextID   int

	failCreate error

	// beforeUpdateStatus runs at the start of UpdateStatus, letting tests
	// interleave a competing transition between the service's read and its
	// guarded write.
	beforeUpdateStatus func()
}

func newFakeFileRepo(ledger *fakeLedger) *fakeFileRepo {
	return &fakeFileRepo{
		ledger:   ledger,
		files:    make(map[int]types.EcuFile),
		history:  make(map[int][]types.StatusEntry),
		comments: make(map[int][]types.Comment),
	}
}

func (r *fakeFileRepo) CreateSubmission(ctx context.Context, file types.EcuFile) (types.EcuFile, error) {
	if r.failCreate != nil {
		return types.EcuFile{}, r.failCreate
	}
	r.nextID++
	file.ID = r.nextID
	file.Status = types.StatusPending
	file.CreatedAt = time.Now()
	file.UpdatedAt = file.CreatedAt

	if r.ledger != nil {
		desc := fmt.Sprintf("tuning file #%d", file.ID)
		if _, err := r.ledger.Debit(ctx, file.OwnerID, file.TotalCredits, types.TxUsage, desc, file.ID); err != nil {
			return types.EcuFile{}, err
		}
	}

	r.files[file.ID] = file
	r.history[file.ID] = []types.StatusEntry{{
		FileID:    file.ID,
		To:        types.StatusPending,
		ActorID:   file.OwnerID,
		CreatedAt: file.CreatedAt,
	}}
	return r.get(file.ID), nil
}

func (r *fakeFileRepo) Get(ctx context.Context, id int) (types.EcuFile, error) {
	if _, ok := r.files[id]; !ok {
		return types.EcuFile{}, store.ErrNotFound
	}
	return r.get(id), nil
}

func (r *fakeFileRepo) get(id int) types.EcuFile {
	file := r.files[id]
	file.StatusHistory = append([]types.StatusEntry(nil), r.history[id]...)
	file.Comments = append([]types.Comment(nil), r.comments[id]...)
	file.HasModified = file.ModifiedKey != ""
	return file
}

func (r *fakeFileRepo) List(ctx context.Context, filter store.FileFilter, offset, limit int) ([]types.EcuFile, int, error) {
	var out []types.EcuFile
	for id := 1; id <= r.nextID; id++ {
		file, ok := r.files[id]
		if !ok {
			continue
		}
		if filter.OwnerID != 0 && file.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ExpertID != 0 && file.AssignedExpertID != filter.ExpertID {
			continue
		}
		if filter.Status != "" && file.Status != filter.Status {
			continue
		}
		out = append(out, r.get(id))
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *fakeFileRepo) UpdateStatus(ctx context.Context, fileID int, from, to types.FileStatus, actorID int, comment string) (types.StatusEntry, error) {
	if r.beforeUpdateStatus != nil {
		r.beforeUpdateStatus()
	}
	file, ok := r.files[fileID]
	if !ok {
		return types.StatusEntry{}, store.ErrNotFound
	}
	if file.Status != from {
		return types.StatusEntry{}, store.ErrConflict
	}
	entry := types.StatusEntry{
		FileID:    fileID,
		From:      file.Status,
		To:        to,
		ActorID:   actorID,
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	file.Status = to
	file.UpdatedAt = entry.CreatedAt
	r.files[fileID] = file
	r.history[fileID] = append(r.history[fileID], entry)
	return entry, nil
}

func (r *fakeFileRepo) SetModifiedKey(ctx context.Context, fileID int, key string) error {
	file, ok := r.files[fileID]
	if !ok {
		return store.ErrNotFound
	}
	file.ModifiedKey = key
	r.files[fileID] = file
	return nil
}

func (r *fakeFileRepo) Assign(ctx context.Context, fileID, expertID, actorID int) error {
	file, ok := r.files[fileID]
	if !ok {
		return store.ErrNotFound
	}
	file.AssignedExpertID = expertID
	r.files[fileID] = file
	r.history[fileID] = append(r.history[fileID], types.StatusEntry{
		FileID:    fileID,
		From:      file.Status,
		To:        file.Status,
		ActorID:   actorID,
		Comment:   "expert assigned",
		CreatedAt: time.Now(),
	})
	return nil
}

func (r *fakeFileRepo) AddComment(ctx context.Context, comment types.Comment) (types.Comment, error) {
	if _, ok := r.files[comment.FileID]; !ok {
		return types.Comment{}, store.ErrNotFound
	}
	comment.ID = len(r.comments[comment.FileID]) + 1
	comment.HasImage = comment.ImageKey != ""
	comment.CreatedAt = time.Now()
	r.comments[comment.FileID] = append(r.comments[comment.FileID], comment)
	return comment, nil
}

func (r *fakeFileRepo) GetComment(ctx context.Context, id int) (types.Comment, error) {
	for _, comments := range r.comments {
		for _, comment := range comments {
			if comment.ID == id {
				return comment, nil
			}
		}
	}
	return types.Comment{}, store.ErrNotFound
}

type fakeBlobStore struct {
	objects map[string][]byte
	deleted []string
	failPut error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.failPut != nil {
		return s.failPut
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeNotificationRepo struct {
	notifications []types.Notification
	nextID        int
	failRecipient int
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n types.Notification) (types.Notification, error) {
	if r.failRecipient != 0 && n.RecipientID == r.failRecipient {
		return types.Notification{}, fmt.Errorf("insert failed for recipient %d", n.RecipientID)
	}
	r.nextID++
	n.ID = r.nextID
	n.CreatedAt = time.Now()
	r.notifications = append(r.notifications, n)
	return n, nil
}

func (r *fakeNotificationRepo) ListByRecipient(ctx context.Context, recipientID int, unreadOnly bool) ([]types.Notification, error) {
	var out []types.Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkRead(ctx context.Context, id, recipientID int) error {
	for i, n := range r.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeNotificationRepo) Delete(ctx context.Context, id, recipientID int) error {
	for i, n := range r.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeNotificationRepo) Clear(ctx context.Context, recipientID int) error {
	kept := r.notifications[:0]
	for _, n := range r.notifications {
		if n.RecipientID != recipientID {
			kept = append(kept, n)
		}
	}
	r.notifications = kept
	return nil
}

func (r *fakeNotificationRepo) forRecipient(recipientID int) []types.Notification {
	var out []types.Notification
	for _, n := range r.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

type fakePublisher struct {
	published [][]byte
	channels  []string
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.channels = append(p.channels, channel)
	p.published = append(p.published, data)
	return fmt.Sprintf("msg-%d", len(p.published)), nil
}

// fakeInvoiceRepo mirrors the store behavior: ledger side effects apply
// together with the invoice write, or not at all.
type fakeInvoiceRepo struct {
	ledger   *fakeLedger
	invoices map[int]types.Invoice
	seq      map[int]int
	nextID   int
}

func newFakeInvoiceRepo(ledger *fakeLedger) *fakeInvoiceRepo {
	return &fakeInvoiceRepo{
		ledger:   ledger,
		invoices: make(map[int]types.Invoice),
		seq:      make(map[int]int),
	}
}

func (r *fakeInvoiceRepo) Create(ctx context.Context, invoice types.Invoice) (types.Invoice, error) {
	r.nextID++
	invoice.ID = r.nextID
	invoice.Year = time.Now().Year()
	r.seq[invoice.Year]++
	invoice.Seq = r.seq[invoice.Year]
	invoice.Number = fmt.Sprintf("FACT-%d-%03d", invoice.Year, invoice.Seq)
	invoice.CreatedAt = time.Now()
	if invoice.Status == types.InvoicePaid {
		if credits := invoice.CreditTotal(); credits > 0 {
			desc := fmt.Sprintf("credit purchase, invoice %s", invoice.Number)
			if _, err := r.ledger.Credit(ctx, invoice.UserID, credits, types.TxPurchase, desc); err != nil {
				return types.Invoice{}, err
			}
		}
	}
	r.invoices[invoice.ID] = invoice
	return invoice, nil
}

func (r *fakeInvoiceRepo) Get(ctx context.Context, id int) (types.Invoice, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return types.Invoice{}, store.ErrNotFound
	}
	return invoice, nil
}

func (r *fakeInvoiceRepo) ListByUser(ctx context.Context, userID int) ([]types.Invoice, error) {
	var out []types.Invoice
	for id := 1; id <= r.nextID; id++ {
		invoice, ok := r.invoices[id]
		if !ok {
			continue
		}
		if userID != 0 && invoice.UserID != userID {
			continue
		}
		out = append(out, invoice)
	}
	return out, nil
}

func (r *fakeInvoiceRepo) UpdateStatus(ctx context.Context, id int, from, to types.InvoiceStatus, delta *store.LedgerDelta) error {
	invoice, ok := r.invoices[id]
	if !ok || invoice.Status != from {
		return store.ErrNotFound
	}
	if delta != nil && delta.Amount != 0 {
		var err error
		if delta.Amount < 0 {
			_, err = r.ledger.Debit(ctx, delta.UserID, -delta.Amount, delta.Kind, delta.Description, 0)
		} else {
			_, err = r.ledger.Credit(ctx, delta.UserID, delta.Amount, delta.Kind, delta.Description)
		}
		if err != nil {
			// The status flip rolls back with the failed delta.
			return err
		}
	}
	invoice.Status = to
	r.invoices[id] = invoice
	return nil
}

type fakeGateway struct {
	status  string
	err     error
	charges []int
}

func (g *fakeGateway) Charge(ctx context.Context, amountCents int, method, payerEmail string) (string, string, error) {
	if g.err != nil {
		return "", "", g.err
	}
	g.charges = append(g.charges, amountCents)
	status := g.status
	if status == "" {
		status = "approved"
	}
	return "charge-1", status, nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	sent   []sentMail
	failTo string
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.failTo != "" && to == m.failTo {
		return fmt.Errorf("delivery to %s failed", to)
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}
