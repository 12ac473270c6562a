package credits

const (
	operationCreateTransaction = "create_transaction"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
