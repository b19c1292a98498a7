package ui

type Window interface {
	Loop() *Loop
	SetTitle(title string)
	SetIcon(data []byte) error
	ShowMessageBox(title, message string)
}
