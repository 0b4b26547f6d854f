package errors

// Sentinel values for errors.Is checks against a kind without caring about
// the message.
var (
	ErrUnknownSentinel         = New(ErrUnknown, "unknown error")
	ErrInvalidArgumentSentinel = New(ErrInvalidArgument, "invalid argument")
	ErrConfigurationSentinel   = New(ErrConfiguration, "configuration error")
	ErrProcessingSentinel      = New(ErrProcessing, "processing error")
	ErrStorageSentinel         = New(ErrStorage, "storage error")
	ErrServiceSentinel         = New(ErrService, "service error")
	ErrBlockNotFoundSentinel   = New(ErrBlockNotFound, "block not found")
	ErrCorruptBlockSentinel    = New(ErrCorruptBlockFile, "corrupt block file")
	ErrUTXOMissSentinel        = New(ErrUTXOMiss, "utxo miss")
	ErrReorgSentinel           = New(ErrReorg, "reorg detected")
)

func NewUnknownError(message string, params ...interface{}) error {
	return New(ErrUnknown, message, params...)
}

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ErrInvalidArgument, message, params...)
}

func NewConfigurationError(message string, params ...interface{}) error {
	return New(ErrConfiguration, message, params...)
}

func NewProcessingError(message string, params ...interface{}) error {
	return New(ErrProcessing, message, params...)
}

func NewStorageError(message string, params ...interface{}) error {
	return New(ErrStorage, message, params...)
}

func NewServiceError(message string, params ...interface{}) error {
	return New(ErrService, message, params...)
}

func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ErrBlockNotFound, message, params...)
}

func NewCorruptBlockError(message string, params ...interface{}) error {
	return New(ErrCorruptBlockFile, message, params...)
}

func NewUTXOMissError(message string, params ...interface{}) error {
	return New(ErrUTXOMiss, message, params...)
}

func NewReorgError(message string, params ...interface{}) error {
	return New(ErrReorg, message, params...)
}
