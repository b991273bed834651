package config

// Template is the file written by `cfgaudit init`.
const Template = `# cfgaudit configuration
root_dir: .claude
output_dir: .cfgaudit
mcp_file: .mcp.json

layout:
  command: {dir: commands, pattern: "*.md"}
  agent: {dir: agents, pattern: "*.md"}
  skill: {dir: skills, pattern: SKILL.md}
  hook: {dir: hooks, pattern: "*"}

# components of these kinds are never orphans
entry_point_kinds: [command, hook]
exclude: []

concurrency: 0 # 0 = one worker per CPU
unit_timeout: 60s
soft_timeout: 0s
merge_policy: weighted-average # or max-severity

analyzers:
  weights:
    structure: 1
    hook: 1
    mcp: 1
    graph: 0.5

llm:
  enabled: false
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY

watch:
  poll_interval: 2s
  debounce: 500ms
  grace_period: 10s

retention:
  keep_runs: 20
  max_archive_age: 720h
  keep_history: 500

log_level: warn
log_format: text
`
