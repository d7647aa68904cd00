package app

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Operation tracks a CLI command that may change the remote database.
// Operations are created in memory with ID=0. Only mutating commands
// persist them to the journal, which assigns the ID.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
	Message    string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     statusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed with err.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = statusError
	op.Message = err.Error()
}
