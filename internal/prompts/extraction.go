package prompts

import "strings"

const extractionTemplate = `You are a memory extraction assistant for a smart home AI. Analyze this conversation and extract ONLY long-term facts worth remembering about the user and their home.

Categories (use exactly these):
- baseline: Sensor normal values ("NOx 100ppm is normal for my home")
- preference: User preferences ("I prefer 22°C", "I like lights dim")
- identity: User info ("my name is Jure", "I'm also called Hoornet")
- device: Device nicknames ("call light.wled_kitchen the main kitchen light")
- pattern: Routines ("I usually get home by 6pm")
- correction: Corrections to previous knowledge ("actually X is normal, not Y")

DO NOT extract any of these — they are garbage and pollute memory:
- Current device states: "the kitchen light is currently red", "sensor shows 22°C right now", "the light is on"
- Actions the assistant just performed: "I turned on the kitchen light", "I set brightness to 50%"
- One-time commands or queries: "turn off the light", "what's the temperature"
- Troubleshooting observations from a single event: "hardware sync issue", "device not responding", "color mode not supported"
- The assistant's own failures or workarounds: "I used rgb_color instead of color_temp", "the command failed"
- Anything that would change in minutes/hours: weather, current time, who is home right now
- Duplicates of existing facts (check the list below)

GOOD extractions (persist across sessions):
[{{"content": "User prefers bedroom temperature at 20°C", "category": "preference", "confidence": 0.9, "replaces": []}}]
[{{"content": "User's name is Jure", "category": "identity", "confidence": 1.0, "replaces": []}}]
[{{"content": "NOx sensor reading of 100ppm is normal in this home", "category": "baseline", "confidence": 0.8, "replaces": []}}]

BAD extractions (never store these):
[{{"content": "Kitchen light is currently displaying red", ...}}]  <- transient state
[{{"content": "Assistant turned on the bedroom light", ...}}]  <- action just performed
[{{"content": "Device has a hardware sync issue", ...}}]  <- single-event diagnosis
[{{"content": "Used rgb_color because color_temp didn't work", ...}}]  <- assistant workaround

If in doubt, return [] — it is better to miss a fact than to store garbage.

{existing_facts_section}

Conversation:
User: {user_message}
Assistant: {assistant_response}

Return ONLY a JSON array of facts to remember. Each fact must have:
- "content": A complete, standalone statement about the USER or their home (not about the assistant)
- "category": One of the categories above
- "confidence": 0.0 to 1.0 — how confident you are this is a lasting fact (not transient)
- "replaces": Array of IDs from existing facts that this new fact supersedes (empty if none)

Return empty array [] if no facts worth remembering.

Important:
- Only extract SIGNIFICANT facts that should persist across sessions
- Make facts self-contained and clear
- If a new fact updates/changes an existing fact about the SAME TOPIC, include that fact's ID in "replaces"
- Return valid JSON only, no explanation`

// Extraction renders the fact extraction prompt. existingFactsSection
// is pre-rendered by the caller, either a JSON listing of stored facts
// or a note that none exist yet.
func Extraction(existingFactsSection, userMessage, assistantResponse string) string {
	r := strings.NewReplacer(
		"{existing_facts_section}", existingFactsSection,
		"{user_message}", userMessage,
		"{assistant_response}", assistantResponse,
	)
	return r.Replace(extractionTemplate)
}
