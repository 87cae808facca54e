package errtag

// Codes below follow the response envelope's status-code convention (see
// package envelope), not the net/http status registry — several of these
// (304, 480, 484, 532) are domain-specific and have no standard HTTP
// meaning.

type codeNoChange struct{}

func (codeNoChange) Code() int { return 304 }

type codeBadRequest struct{}

func (codeBadRequest) Code() int { return 400 }

type codeConflict struct{}

func (codeConflict) Code() int { return 409 }

type codePreconditionFailed struct{}

func (codePreconditionFailed) Code() int { return 412 }

type codeWrongStatus struct{}

func (codeWrongStatus) Code() int { return 480 }

type codeNoSuchTx struct{}

func (codeNoSuchTx) Code() int { return 484 }

type codeInternal struct{}

func (codeInternal) Code() int { return 500 }

type codeNotImplemented struct{}

func (codeNotImplemented) Code() int { return 501 }

type codeEnvironmental struct{}

func (codeEnvironmental) Code() int { return 532 }
