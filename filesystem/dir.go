package filesystem

import "io/fs"

type DirFile interface {
	File
	ReadDir(n int) ([]fs.DirEntry, error)
}
