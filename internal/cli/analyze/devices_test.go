package analyze

import "testing"

func TestDevice_Fields(t *testing.T) {
	d := Device{Index: 1, Name: "USB Microphone", IsDefault: true}

	if d.Index != 1 || d.Name != "USB Microphone" || !d.IsDefault {
		t.Errorf("Device = %+v", d)
	}
}
