package protocol

import "strings"

// GATT layout shared by all supported OMRON models
const (
	ServiceUUID = "ecbe3980-c9a2-11e1-b1bd-0002a5d5c51b"
	UnlockUUID  = "b305b680-aee7-11e1-a730-0002a5d5c51b"
)

// ChannelCount is the number of parallel TX/RX characteristics.
const ChannelCount = 4

// RXChannelUUIDs notify device → host chunks, in channel order.
var RXChannelUUIDs = [ChannelCount]string{
	"49123040-aee8-11e1-a74d-0002a5d5c51b",
	"4d0bf320-aee8-11e1-a0d9-0002a5d5c51b",
	"5128ce60-aee8-11e1-b84b-0002a5d5c51b",
	"560f1420-aee8-11e1-8184-0002a5d5c51b",
}

// TXChannelUUIDs accept host → device chunks, in channel order.
var TXChannelUUIDs = [ChannelCount]string{
	"db5b55e0-aee7-11e1-965e-0002a5d5c51b",
	"e0b8a060-aee7-11e1-92f4-0002a5d5c51b",
	"0ae12b00-aee8-11e1-a192-0002a5d5c51b",
	"10e1ba60-aee8-11e1-89e5-0002a5d5c51b",
}

// RXChannel returns the channel index of an RX characteristic UUID, or -1.
// Dashed and undashed forms in any case are accepted.
func RXChannel(uuid string) int {
	return channelIndex(RXChannelUUIDs, uuid)
}

// TXChannel returns the channel index of a TX characteristic UUID, or -1.
func TXChannel(uuid string) int {
	return channelIndex(TXChannelUUIDs, uuid)
}

func channelIndex(channels [ChannelCount]string, uuid string) int {
	want := undash(uuid)
	for i, u := range channels {
		if undash(u) == want {
			return i
		}
	}
	return -1
}

func undash(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
