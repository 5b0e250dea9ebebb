// Package git warns when plaintext copies of vault files sit where git
// could pick them up.
//
// Checks performed for each file inside a git working tree:
//   - Whether it is tracked by git (plaintext already in history)
//   - Whether it is matched by a .gitignore rule
//
// Outside a working tree, or when git is not installed, no checks run.
package git
