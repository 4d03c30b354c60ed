package call

import (
	"github.com/samber/lo"
)

// RemoteSeedPool is the fixed pool simulated participants are drawn from.
var RemoteSeedPool = []Seed{
	{Name: "Aminah", IsMicOn: true, IsCameraOn: true},
	{Name: "Kelvin", IsMicOn: true, IsCameraOn: false},
	{Name: "Maya", IsMicOn: false, IsCameraOn: true},
	{Name: "Dami", IsMicOn: true, IsCameraOn: true},
	{Name: "Rita", IsMicOn: true, IsCameraOn: true},
	{Name: "Femi", IsMicOn: false, IsCameraOn: false},
	{Name: "Jules", IsMicOn: true, IsCameraOn: true},
	{Name: "Tobi", IsMicOn: true, IsCameraOn: true},
}

// CannedReplies are the synthetic chat replies used in simulation mode.
var CannedReplies = []string{
	"Looks great from my side.",
	"Can you repeat that last point?",
	"Audio is clear now.",
	"Let's lock this before demo.",
	"Sharing my thoughts in 2 mins.",
	"Nice, this flow feels smooth.",
}

// Greeting opens the chat log when a call starts in simulation mode.
const Greeting = "Welcome everyone. Let's begin."

// NextSeed returns the first pool entry whose name is not already present.
func NextSeed(present []Participant) (Seed, bool) {
	return lo.Find(RemoteSeedPool, func(s Seed) bool {
		return !lo.ContainsBy(present, func(p Participant) bool { return p.Name == s.Name })
	})
}
