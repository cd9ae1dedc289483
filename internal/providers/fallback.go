package providers

import (
	"strings"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// manualCueSeconds は組み込みトランスクリプトを合成キューに変換するときの
// 1行あたりの長さです。
const manualCueSeconds = 5.0

// manualTranscripts はネットワーク経由で字幕を取得できない開発環境向けの
// 手書きトランスクリプトです。正規化された動画IDをキーとします。
var manualTranscripts = map[string]string{
	"counting_1_10": `
The Singing Walrus. Counting from 1 to 10!
One, two, three. - One, two, three!
Four, five, six. - Four, five, six!
Seven. - Seven!
Eight. - Eight!
Nine and ten. - Nine and ten!
Do you know how to count?
Yes I know how to count!
Can you count from ten to one?
Ten, nine, eight, seven, six, five, four, three, two, one.
`,

	"learning_shapes": `
[Music]
happy sunshine
circle square triangle rectangle
heart star Pentagon semicircle hexagon
Cloud Diamond Arrow Trapezium
Parallelogram Present
`,

	"animal": `
Let's learn about animals!
Here comes the iguana — green and cool!
The flamingos are pink and tall.
Can you spot the snake? It's slithering!
Say hello to the elephant — it's so big!
The lion roars loudly in the jungle.
Now look — the monkey is swinging in the trees.
Bye bye, little bird! See you later!
This video is for you — let's learn more!
Today we saw many animals.
Can you remember them all?
You're doing great — let's keep exploring!
I will not forget these amazing animals!
`,

	"vehicle_names": `
[Music]
In this video we will learn about
vehicle names: car, jeep, motorcycle,
scooter, van, bicycle, auto rickshaw,
tractor, police car, bus, lorry, train,
double decker bus, airplane, submarine,
helicopter, ship, rocket, boat,
ambulance, crane, fire engine,
bulldozer, hot air balloon, cable car,
tempo, forklift truck.
`,
}

// normalizeManualID はフォールバック検索用にIDを正規化します。
func normalizeManualID(videoID string) string {
	id := strings.ToLower(strings.TrimSpace(videoID))
	id = strings.ReplaceAll(id, "-", "_")
	id = strings.ReplaceAll(id, " ", "_")
	return id
}

// manualTranscript は組み込みトランスクリプトを均等間隔の合成キューとして返します。
func manualTranscript(videoID string) ([]jobs.Cue, bool) {
	text, ok := manualTranscripts[normalizeManualID(videoID)]
	if !ok {
		return nil, false
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	cues := make([]jobs.Cue, 0, len(lines))
	start := 0.0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cues = append(cues, jobs.Cue{
			Text:     line,
			Start:    start,
			Duration: manualCueSeconds,
		})
		start += manualCueSeconds
	}
	return cues, len(cues) > 0
}
