package types

import "time"

// FileStatus represents the workflow state of an uploaded ECU file.
type FileStatus string

// Workflow states. A file starts out pending and ends at completed or
// rejected.
const (
	// StatusPending indicates the file has been received and awaits review.
	StatusPending FileStatus = "pending"

	// StatusProcessing indicates an admin or expert is working on the file.
	StatusProcessing FileStatus = "processing"

	// StatusCompleted indicates the modified file is ready for the owner.
	StatusCompleted FileStatus = "completed"

	// StatusRejected indicates the request was declined; details are in
	// the discussion comments.
	StatusRejected FileStatus = "rejected"
)

// Valid reports whether s is a known workflow state.
func (s FileStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s ends the workflow in normal flow.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// TuningOptions is the set of modifications requested for a file.
// It drives the credit price of a submission.
type TuningOptions struct {
	// PowerIncrease selects the base remap stage.
	// One of "", "Stage 1", "Stage 2" or "Custom".
	PowerIncrease string `json:"power_increase" db:"power_increase"`

	DPFOff       bool `json:"dpf_off" db:"dpf_off"`
	OPFOff       bool `json:"opf_off" db:"opf_off"`
	AdBlueOff    bool `json:"adblue_off" db:"adblue_off"`
	EGROff       bool `json:"egr_off" db:"egr_off"`
	DTCRemoval   bool `json:"dtc_removal" db:"dtc_removal"`
	VmaxOff      bool `json:"vmax_off" db:"vmax_off"`
	StartStopOff bool `json:"start_stop_off" db:"start_stop_off"`
	CatalystOff  bool `json:"catalyst_off" db:"catalyst_off"`
	PopAndBang   bool `json:"pop_and_bang" db:"pop_and_bang"`
}

// Any reports whether at least one modification was explicitly chosen.
func (o TuningOptions) Any() bool {
	return o.PowerIncrease != "" || o.DPFOff || o.OPFOff || o.AdBlueOff ||
		o.EGROff || o.DTCRemoval || o.VmaxOff || o.StartStopOff ||
		o.CatalystOff || o.PopAndBang
}

// VehicleInfo describes the vehicle a file was read from.
type VehicleInfo struct {
	Make         string `json:"make" db:"make"`
	Model        string `json:"model" db:"model"`
	Year         int    `json:"year" db:"year"`
	Engine       string `json:"engine" db:"engine"`
	ECUType      string `json:"ecu_type" db:"ecu_type"`
	Transmission string `json:"transmission" db:"transmission"`
	VIN          string `json:"vin,omitempty" db:"vin"`
}

// EcuFile is a workflow instance: one uploaded ECU binary together with
// its requested modifications, pricing, status history and discussion.
type EcuFile struct {
	// ID is the unique identifier of the file.
	ID int `json:"id" db:"id"`

	// OwnerID identifies the customer who submitted the file.
	OwnerID int `json:"owner_id" db:"owner_id"`

	// Status is the current workflow state.
	Status FileStatus `json:"status" db:"status"`

	// AssignedExpertID identifies the expert assigned to process the file.
	// Zero means unassigned.
	AssignedExpertID int `json:"assigned_expert_id,omitempty" db:"assigned_expert_id"`

	// Vehicle describes the source vehicle.
	Vehicle VehicleInfo `json:"vehicle" db:"vehicle"`

	// Options is the set of modifications requested at submission time.
	Options TuningOptions `json:"options" db:"options"`

	// TotalCredits is the price charged for this submission.
	TotalCredits int `json:"total_credits" db:"total_credits"`

	// OriginalName is the filename the customer uploaded.
	OriginalName string `json:"original_name" db:"original_name"`

	// OriginalKey is the object-storage key of the uploaded binary.
	// Keys are generated server-side and never derived from filenames.
	OriginalKey string `json:"-" db:"original_key"`

	// ModifiedKey is the object-storage key of the processed binary,
	// set when an admin or expert sends the result to the client.
	ModifiedKey string `json:"-" db:"modified_key"`

	// HasModified reports whether a processed binary is available.
	HasModified bool `json:"has_modified" db:"-"`

	// StatusHistory is the append-only audit log of workflow transitions.
	StatusHistory []StatusEntry `json:"status_history,omitempty" db:"-"`

	// Comments is the append-only ordered discussion on this file.
	Comments []Comment `json:"comments,omitempty" db:"-"`

	// CreatedAt is the timestamp when the file was submitted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent change to the file.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StatusEntry is a single record in a file's status history.
type StatusEntry struct {
	// ID is the unique identifier of the entry.
	ID int `json:"id" db:"id"`

	// FileID identifies the file this entry belongs to.
	FileID int `json:"file_id" db:"file_id"`

	// From is the state the file left. Empty for the initial entry.
	From FileStatus `json:"from,omitempty" db:"from_status"`

	// To is the state the file entered.
	To FileStatus `json:"to" db:"to_status"`

	// ActorID identifies the user who performed the transition.
	ActorID int `json:"actor_id" db:"actor_id"`

	// Comment is an optional note recorded with the transition.
	Comment string `json:"comment,omitempty" db:"comment"`

	// CreatedAt is the timestamp of the transition.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Comment is one message in a file's discussion thread.
// At least one of Text or ImageKey is set.
type Comment struct {
	// ID is the unique identifier of the comment.
	ID int `json:"id" db:"id"`

	// FileID identifies the file this comment belongs to.
	FileID int `json:"file_id" db:"file_id"`

	// AuthorID identifies the user who wrote the comment.
	AuthorID int `json:"author_id" db:"author_id"`

	// Text is the comment body. May be empty when an image is attached.
	Text string `json:"text,omitempty" db:"text"`

	// ImageKey is the object-storage key of an attached image, if any.
	ImageKey string `json:"-" db:"image_key"`

	// HasImage reports whether an image is attached.
	HasImage bool `json:"has_image" db:"-"`

	// CreatedAt is the timestamp when the comment was posted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
