package transcribe

import "dictd/internal/logging"

func nopLog() *logging.Logger { return logging.Nop() }
