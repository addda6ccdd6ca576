package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tunefile/apiserver/internal/services"
	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

// Minimal in-memory backends for the HTTP tests. The router wiring below
// mirrors the server setup.

type memUserRepo struct {
	users map[int]types.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = len(r.users) + 1
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdateRole(ctx context.Context, id int, role string) error {
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Role = role
	r.users[id] = user
	return nil
}

func (r *memUserRepo) ListByRole(ctx context.Context, role string) ([]types.User, error) {
	var out []types.User
	for _, user := range r.users {
		if user.Role == role {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memUserRepo) ListByDigest(ctx context.Context, digest string) ([]types.User, error) {
	var out []types.User
	for _, user := range r.users {
		if user.EmailDigest == digest {
			out = append(out, user)
		}
	}
	return out, nil
}

type memLedger struct {
	balances map[int]int
	txs      []types.CreditTransaction
}

func (l *memLedger) Credit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string) (types.CreditTransaction, error) {
	l.balances[userID] += amount
	tx := types.CreditTransaction{ID: len(l.txs) + 1, UserID: userID, Amount: amount, Kind: kind, Description: description}
	l.txs = append(l.txs, tx)
	return tx, nil
}

func (l *memLedger) Debit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string, fileID int) (types.CreditTransaction, error) {
	if l.balances[userID] < amount {
		return types.CreditTransaction{}, &store.InsufficientCreditsError{Balance: l.balances[userID], Required: amount}
	}
	l.balances[userID] -= amount
	tx := types.CreditTransaction{ID: len(l.txs) + 1, UserID: userID, Amount: -amount, Kind: kind, Description: description, FileID: fileID}
	l.txs = append(l.txs, tx)
	return tx, nil
}

func (l *memLedger) ListByUser(ctx context.Context, userID int) ([]types.CreditTransaction, error) {
	var out []types.CreditTransaction
	for _, tx := range l.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *memLedger) Balance(ctx context.Context, userID int) (int, error) {
	return l.balances[userID], nil
}

func (l *memLedger) TransactionSum(ctx context.Context, userID int) (int, error) {
	sum := 0
	for _, tx := range l.txs {
		if tx.UserID == userID {
			sum += tx.Amount
		}
	}
	return sum, nil
}

type memFileRepo struct {
	ledger   *memLedger
	files    map[int]types.EcuFile
	history  map[int][]types.StatusEntry
	comments map[int][]types.Comment
}

func (r *memFileRepo) CreateSubmission(ctx context.Context, file types.EcuFile) (types.EcuFile, error) {
	id := len(r.files) + 1
	if _, err := r.ledger.Debit(ctx, file.OwnerID, file.TotalCredits, types.TxUsage, fmt.Sprintf("tuning file #%d", id), id); err != nil {
		return types.EcuFile{}, err
	}
	file.ID = id
	file.Status = types.StatusPending
	r.files[id] = file
	r.history[id] = []types.StatusEntry{{FileID: id, To: types.StatusPending, ActorID: file.OwnerID}}
	return r.load(id), nil
}

func (r *memFileRepo) Get(ctx context.Context, id int) (types.EcuFile, error) {
	if _, ok := r.files[id]; !ok {
		return types.EcuFile{}, store.ErrNotFound
	}
	return r.load(id), nil
}

func (r *memFileRepo) load(id int) types.EcuFile {
	file := r.files[id]
	file.StatusHistory = r.history[id]
	file.Comments = r.comments[id]
	file.HasModified = file.ModifiedKey != ""
	return file
}

func (r *memFileRepo) List(ctx context.Context, filter store.FileFilter, offset, limit int) ([]types.EcuFile, int, error) {
	var out []types.EcuFile
	for id := 1; id <= len(r.files); id++ {
		file := r.files[id]
		if filter.OwnerID != 0 && file.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ExpertID != 0 && file.AssignedExpertID != filter.ExpertID {
			continue
		}
		if filter.Status != "" && file.Status != filter.Status {
			continue
		}
		out = append(out, r.load(id))
	}
	return out, len(out), nil
}

func (r *memFileRepo) UpdateStatus(ctx context.Context, fileID int, from, to types.FileStatus, actorID int, comment string) (types.StatusEntry, error) {
	file, ok := r.files[fileID]
	if !ok {
		return types.StatusEntry{}, store.ErrNotFound
	}
	if file.Status != from {
		return types.StatusEntry{}, store.ErrConflict
	}
	entry := types.StatusEntry{FileID: fileID, From: file.Status, To: to, ActorID: actorID, Comment: comment, CreatedAt: time.Now()}
	file.Status = to
	r.files[fileID] = file
	r.history[fileID] = append(r.history[fileID], entry)
	return entry, nil
}

func (r *memFileRepo) SetModifiedKey(ctx context.Context, fileID int, key string) error {
	file, ok := r.files[fileID]
	if !ok {
		return store.ErrNotFound
	}
	file.ModifiedKey = key
	r.files[fileID] = file
	return nil
}

func (r *memFileRepo) Assign(ctx context.Context, fileID, expertID, actorID int) error {
	file, ok := r.files[fileID]
	if !ok {
		return store.ErrNotFound
	}
	file.AssignedExpertID = expertID
	r.files[fileID] = file
	return nil
}

func (r *memFileRepo) AddComment(ctx context.Context, comment types.Comment) (types.Comment, error) {
	if _, ok := r.files[comment.FileID]; !ok {
		return types.Comment{}, store.ErrNotFound
	}
	comment.ID = len(r.comments[comment.FileID]) + 1
	comment.HasImage = comment.ImageKey != ""
	r.comments[comment.FileID] = append(r.comments[comment.FileID], comment)
	return comment, nil
}

func (r *memFileRepo) GetComment(ctx context.Context, id int) (types.Comment, error) {
	for _, comments := range r.comments {
		for _, comment := range comments {
			if comment.ID == id {
				return comment, nil
			}
		}
	}
	return types.Comment{}, store.ErrNotFound
}

type memBlobStore struct {
	objects map[string][]byte
}

func (s *memBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *memBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memBlobStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type memNotificationRepo struct {
	notifications []types.Notification
}

func (r *memNotificationRepo) Create(ctx context.Context, n types.Notification) (types.Notification, error) {
	n.ID = len(r.notifications) + 1
	r.notifications = append(r.notifications, n)
	return n, nil
}

func (r *memNotificationRepo) ListByRecipient(ctx context.Context, recipientID int, unreadOnly bool) ([]types.Notification, error) {
	var out []types.Notification
	for _, n := range r.notifications {
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

func (r *memNotificationRepo) MarkRead(ctx context.Context, id, recipientID int) error {
	for i, n := range r.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memNotificationRepo) Delete(ctx context.Context, id, recipientID int) error {
	for i, n := range r.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memNotificationRepo) Clear(ctx context.Context, recipientID int) error {
	kept := r.notifications[:0]
	for _, n := range r.notifications {
		if n.RecipientID != recipientID {
			kept = append(kept, n)
		}
	}
	r.notifications = kept
	return nil
}

type memInvoiceRepo struct {
	ledger   *memLedger
	invoices map[int]types.Invoice
	seq      int
}

func (r *memInvoiceRepo) Create(ctx context.Context, invoice types.Invoice) (types.Invoice, error) {
	r.seq++
	invoice.ID = r.seq
	invoice.Year = time.Now().Year()
	invoice.Seq = r.seq
	invoice.Number = fmt.Sprintf("FACT-%d-%03d", invoice.Year, r.seq)
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

func (r *memInvoiceRepo) Get(ctx context.Context, id int) (types.Invoice, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return types.Invoice{}, store.ErrNotFound
	}
	return invoice, nil
}

func (r *memInvoiceRepo) ListByUser(ctx context.Context, userID int) ([]types.Invoice, error) {
	var out []types.Invoice
	for id := 1; id <= r.seq; id++ {
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

func (r *memInvoiceRepo) UpdateStatus(ctx context.Context, id int, from, to types.InvoiceStatus, delta *store.LedgerDelta) error {
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
			return err
		}
	}
	invoice.Status = to
	r.invoices[id] = invoice
	return nil
}

type approveAllGateway struct{}

func (approveAllGateway) Charge(ctx context.Context, amountCents int, method, payerEmail string) (string, string, error) {
	return "charge-test", "approved", nil
}

// testAuth reads the acting user from a request header instead of a JWT.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Test-User")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), contextSubjectKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type testEnv struct {
	router *chi.Mux
	users  *memUserRepo
	ledger *memLedger
	notes  *memNotificationRepo
	blobs  *memBlobStore
}

func newTestEnv(users ...types.User) *testEnv {
	userRepo := &memUserRepo{users: make(map[int]types.User)}
	ledger := &memLedger{balances: make(map[int]int)}
	for _, user := range users {
		userRepo.users[user.ID] = user
		ledger.balances[user.ID] = user.Credits
	}

	fileRepo := &memFileRepo{
		ledger:   ledger,
		files:    make(map[int]types.EcuFile),
		history:  make(map[int][]types.StatusEntry),
		comments: make(map[int][]types.Comment),
	}
	blobs := &memBlobStore{objects: make(map[string][]byte)}
	notes := &memNotificationRepo{}
	invoiceRepo := &memInvoiceRepo{ledger: ledger, invoices: make(map[int]types.Invoice)}

	userService := services.NewUserService(userRepo)
	creditService := services.NewCreditService(ledger)
	notifier := services.NewNotificationService(notes, userRepo, nil, nil)
	fileService := services.NewFileService(fileRepo, userRepo, blobs, notifier, nil)
	invoiceService := services.NewInvoiceService(invoiceRepo, approveAllGateway{}, nil)

	router := chi.NewRouter()
	router.Route("/files", func(r chi.Router) {
		FileRouter(r, fileService, userService, testAuth)
	})
	router.Route("/credits", func(r chi.Router) {
		CreditRouter(r, creditService, invoiceService, userService, testAuth)
	})
	router.Route("/invoices", func(r chi.Router) {
		InvoiceRouter(r, creditService, invoiceService, userService, testAuth)
	})
	router.Route("/notifications", func(r chi.Router) {
		NotificationRouter(r, notifier, testAuth)
	})
	router.Route("/admin", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			AdminFileRouter(r, fileService, userService, testAuth)
		})
		r.Route("/invoices", func(r chi.Router) {
			AdminInvoiceRouter(r, creditService, invoiceService, userService, testAuth)
		})
		r.Route("/users", func(r chi.Router) {
			AdminUserRouter(r, userService, creditService, testAuth)
		})
	})

	return &testEnv{
		router: router,
		users:  userRepo,
		ledger: ledger,
		notes:  notes,
		blobs:  blobs,
	}
}
