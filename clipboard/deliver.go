package clipboard

import "time"

// restoreDelay gives the user time to paste before the previous
// clipboard content comes back.
const restoreDelay = 600 * time.Millisecond

// Deliver places text on the clipboard, then restores whatever was
// there before after a short delay. The restore is skipped when the
// clipboard changed in the meantime (the user copied something new).
func Deliver(text string) error {
	prev, _ := Read()

	if err := Copy(text); err != nil {
		return err
	}

	if prev != "" && prev != text {
		go func() {
			time.Sleep(restoreDelay)
			current, err := Read()
			if err != nil || current != text {
				return
			}
			Copy(prev)
		}()
	}
	return nil
}
