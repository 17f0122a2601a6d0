package gitlib

import (
	"context"
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrClone indicates a repository could not be cloned.
var ErrClone = errors.New("git clone")

// CloneOptions configures Clone.
type CloneOptions struct {
	// Branch checks out the named remote branch instead of the default.
	Branch string
}

// Clone clones url into dest and reports the resulting checkout. Cancelling
// ctx aborts the transfer at the next progress callback.
func Clone(ctx context.Context, url, dest string, opts CloneOptions) (Checkout, error) {
	abortOnCancel := git2go.RemoteCallbacks{
		TransferProgressCallback: func(git2go.TransferProgress) error { return ctx.Err() },
	}

	repo, err := git2go.Clone(url, dest, &git2go.CloneOptions{
		CheckoutBranch: opts.Branch,
		FetchOptions:   git2go.FetchOptions{RemoteCallbacks: abortOnCancel},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		return Checkout{}, fmt.Errorf("%w %s: %w", ErrClone, url, err)
	}
	defer repo.Free()

	co, err := describe(repo, dest)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w %s: %w", ErrClone, url, err)
	}

	return co, nil
}
