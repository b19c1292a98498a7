package loader

import "errors"

var (
	ErrFormatUnsupported  = errors.New("module format unsupported")
	ErrXnaUnsupported     = errors.New("XNA executables are not implemented")
	ErrNotImplemented     = errors.New("not implemented")
	ErrPending            = errors.New("module load pending")
	ErrMalformed          = errors.New("malformed module")
	ErrNotPatch           = errors.New("module is not a patch")
	ErrPatchNotApplicable = errors.New("patch not applicable")
	ErrNoImage            = errors.New("module image not loaded")
	ErrOptHeaderNotFound  = errors.New("optional header not found")
)
