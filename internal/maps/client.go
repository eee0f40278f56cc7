// Package maps is a client for an amap-style REST geo API, backing the
// gateway's location tools: geocoding, nearby and keyword place search,
// distance measurement, and route planning.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://restapi.amap.com/v3"

	// geocodeTTL bounds how long a resolved place name stays cached.
	geocodeTTL = 600 * time.Second

	maxRadius = 50000
	maxLimit  = 25
)

var coordinatePattern = regexp.MustCompile(`^\d+\.?\d*,\d+\.?\d*$`)

// Client calls the geo API. A process-local geocode cache avoids repeated
// lookups for the same place name.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	geocode map[string]cacheEntry
}

type cacheEntry struct {
	coord   string
	expires time.Time
}

// Config wires a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
	// Now overrides the clock, for cache tests.
	Now func() time.Time
}

// New creates the client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		now:     now,
		geocode: make(map[string]cacheEntry),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	params.Set("key", c.apiKey)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geo request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo request %s: status %d", endpoint, resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	if str(data, "status") != "1" {
		return nil, fmt.Errorf("geo API error: %s (code=%s)", str(data, "info"), str(data, "infocode"))
	}
	return data, nil
}

// IsCoordinate reports whether text already looks like "lng,lat".
func IsCoordinate(text string) bool {
	return coordinatePattern.MatchString(strings.TrimSpace(text))
}

// ResolveLocation turns a place name into coordinates, passing coordinate
// input through unchanged. Results are cached per (name, city).
func (c *Client) ResolveLocation(ctx context.Context, input, city string) (string, error) {
	input = strings.TrimSpace(input)
	if IsCoordinate(input) {
		return input, nil
	}

	cacheKey := input + "|" + city
	c.mu.Lock()
	if entry, ok := c.geocode[cacheKey]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.coord, nil
	}
	c.mu.Unlock()

	params := url.Values{"address": {input}}
	if city != "" {
		params.Set("city", city)
	}
	data, err := c.get(ctx, "geocode/geo", params)
	if err != nil {
		return "", err
	}
	geocodes := list(data, "geocodes")
	if len(geocodes) == 0 {
		return "", fmt.Errorf("找不到 '%s' 的位置信息，请尝试更详细的地址", input)
	}
	coord := str(geocodes[0], "location")
	if coord == "" {
		return "", fmt.Errorf("'%s' 的坐标数据异常", input)
	}

	c.cacheCoord(cacheKey, coord)
	return coord, nil
}

func (c *Client) cacheCoord(key, coord string) {
	c.mu.Lock()
	c.geocode[key] = cacheEntry{coord: coord, expires: c.now().Add(geocodeTTL)}
	c.mu.Unlock()
}

// Geocode resolves an address and renders the full location breakdown.
func (c *Client) Geocode(ctx context.Context, address, city string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("请提供要查询的地名或地址")
	}

	params := url.Values{"address": {address}}
	if city != "" {
		params.Set("city", city)
	}
	data, err := c.get(ctx, "geocode/geo", params)
	if err != nil {
		return "", err
	}
	geocodes := list(data, "geocodes")
	if len(geocodes) == 0 {
		return "", fmt.Errorf("找不到 '%s' 的位置信息", address)
	}

	geo := geocodes[0]
	coord := str(geo, "location")
	c.cacheCoord(address+"|"+city, coord)

	formatted := str(geo, "formatted_address")
	if formatted == "" {
		formatted = address
	}
	return fmt.Sprintf("📍 %s\n坐标: %s\n省份: %s\n城市: %s\n区县: %s",
		formatted, coord, str(geo, "province"), str(geo, "city"), str(geo, "district")), nil
}

// Around searches POIs around a center point given as coordinates
// (location) or a place name (address).
func (c *Client) Around(ctx context.Context, keyword, location, address, city string, radius, limit int) (string, error) {
	var center string
	var err error
	switch {
	case location != "":
		center = strings.TrimSpace(location)
	case address != "":
		center, err = c.ResolveLocation(ctx, address, city)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("请提供搜索中心点：坐标(location)或地名(address)")
	}

	if radius <= 0 {
		radius = 1000
	}
	if radius > maxRadius {
		radius = maxRadius
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	params := url.Values{
		"location":   {center},
		"radius":     {strconv.Itoa(radius)},
		"offset":     {strconv.Itoa(limit)},
		"page":       {"1"},
		"extensions": {"all"},
		"sortrule":   {"distance"},
	}
	if keyword != "" {
		params.Set("keywords", keyword)
	}

	data, err := c.get(ctx, "place/around", params)
	if err != nil {
		return "", err
	}
	pois := list(data, "pois")

	centerName := address
	if centerName == "" {
		centerName = location
	}
	if len(pois) == 0 {
		return fmt.Sprintf("在 '%s' 附近%d米内没有找到相关结果", centerName, radius), nil
	}

	header := fmt.Sprintf("🗺️ 在\"%s\"附近%d米内", centerName, radius)
	if keyword != "" {
		header += fmt.Sprintf("搜索\"%s\"", keyword)
	}
	header += fmt.Sprintf("找到 %d 个结果：\n", len(pois))

	return header + "\n" + joinPOIs(pois, true), nil
}

// TextSearch finds places by keyword, optionally scoped to a city.
func (c *Client) TextSearch(ctx context.Context, keyword, city string, limit int) (string, error) {
	if keyword == "" {
		return "", fmt.Errorf("请提供搜索关键词")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	params := url.Values{
		"keywords":   {keyword},
		"offset":     {strconv.Itoa(limit)},
		"page":       {"1"},
		"extensions": {"all"},
	}
	if city != "" {
		params.Set("city", city)
	}

	data, err := c.get(ctx, "place/text", params)
	if err != nil {
		return "", err
	}
	pois := list(data, "pois")

	scope := ""
	if city != "" {
		scope = "在" + city
	}
	if len(pois) == 0 {
		return fmt.Sprintf("%s没有找到\"%s\"相关的地点", scope, keyword), nil
	}

	header := fmt.Sprintf("🔍 %s搜索\"%s\"找到 %d 个结果：\n", scope, keyword, len(pois))
	return header + "\n" + joinPOIs(pois, false), nil
}

// Distance measures origin to destination. Mode 0 is driving, 1 walking,
// 3 straight-line.
func (c *Client) Distance(ctx context.Context, origin, destination, city string, mode int) (string, error) {
	if origin == "" || destination == "" {
		return "", fmt.Errorf("请提供起点和终点")
	}

	originCoord, err := c.ResolveLocation(ctx, origin, city)
	if err != nil {
		return "", err
	}
	destCoord, err := c.ResolveLocation(ctx, destination, city)
	if err != nil {
		return "", err
	}

	data, err := c.get(ctx, "distance", url.Values{
		"origins":     {originCoord},
		"destination": {destCoord},
		"type":        {strconv.Itoa(mode)},
	})
	if err != nil {
		return "", err
	}
	results := list(data, "results")
	if len(results) == 0 {
		return "", fmt.Errorf("无法计算距离，请检查输入的地点")
	}
	result := results[0]

	modeLabel := map[int]string{0: "🚗 驾车", 1: "🚶 步行", 3: "📏 直线"}[mode]
	lines := []string{
		fmt.Sprintf("📏 从\"%s\"到\"%s\"：", origin, destination),
		fmt.Sprintf("%s距离: %s", modeLabel, formatDistance(str(result, "distance"))),
	}
	if mode != 3 {
		lines = append(lines, "⏱️ 预计时间: "+formatDuration(str(result, "duration")))
	}
	lines = append(lines,
		"📍 起点坐标: "+originCoord,
		"📍 终点坐标: "+destCoord,
	)
	return strings.Join(lines, "\n"), nil
}

// Route plans a walking, driving, or transit route. Transit requires city.
func (c *Client) Route(ctx context.Context, origin, destination, city, mode string) (string, error) {
	if origin == "" || destination == "" {
		return "", fmt.Errorf("请提供起点和终点")
	}
	if mode == "transit" && city == "" {
		return "", fmt.Errorf("公交规划需要指定城市名哦，请在 city 参数中填写城市")
	}

	originCoord, err := c.ResolveLocation(ctx, origin, city)
	if err != nil {
		return "", err
	}
	destCoord, err := c.ResolveLocation(ctx, destination, city)
	if err != nil {
		return "", err
	}

	switch mode {
	case "", "walking":
		return c.routeWalking(ctx, origin, destination, originCoord, destCoord)
	case "driving":
		return c.routeDriving(ctx, origin, destination, originCoord, destCoord)
	case "transit":
		return c.routeTransit(ctx, origin, destination, originCoord, destCoord, city)
	default:
		return "", fmt.Errorf("不支持的出行方式: %s，可选: walking / driving / transit", mode)
	}
}

func (c *Client) routeWalking(ctx context.Context, origin, destination, originCoord, destCoord string) (string, error) {
	data, err := c.get(ctx, "direction/walking", url.Values{
		"origin":      {originCoord},
		"destination": {destCoord},
	})
	if err != nil {
		return "", err
	}
	paths := list(sub(data, "route"), "paths")
	if len(paths) == 0 {
		return "", fmt.Errorf("无法规划步行路线")
	}
	path := paths[0]

	lines := []string{
		fmt.Sprintf("🚶 从\"%s\"步行到\"%s\"", placeName(origin, "起点"), placeName(destination, "终点")),
		fmt.Sprintf("总距离: %s | 预计: %s",
			formatDistance(str(path, "distance")), formatDuration(str(path, "duration"))),
		"",
		"路线：",
	}
	for i, step := range list(path, "steps") {
		instruction := str(step, "instruction")
		if instruction == "" {
			continue
		}
		suffix := ""
		if dist := str(step, "distance"); dist != "" && dist != "0" {
			suffix = fmt.Sprintf("（%s）", formatDistance(dist))
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s", i+1, instruction, suffix))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) routeDriving(ctx context.Context, origin, destination, originCoord, destCoord string) (string, error) {
	data, err := c.get(ctx, "direction/driving", url.Values{
		"origin":      {originCoord},
		"destination": {destCoord},
		"strategy":    {"0"},
	})
	if err != nil {
		return "", err
	}
	paths := list(sub(data, "route"), "paths")
	if len(paths) == 0 {
		return "", fmt.Errorf("无法规划驾车路线")
	}
	path := paths[0]

	lines := []string{
		fmt.Sprintf("🚗 从\"%s\"驾车到\"%s\"", placeName(origin, "起点"), placeName(destination, "终点")),
		fmt.Sprintf("总距离: %s | 预计: %s",
			formatDistance(str(path, "distance")), formatDuration(str(path, "duration"))),
	}
	if tolls, err := strconv.Atoi(str(path, "tolls")); err == nil && tolls > 0 {
		lines = append(lines, fmt.Sprintf("💰 过路费: ¥%d", tolls))
	}
	lines = append(lines, "", "路线：")
	for i, step := range list(path, "steps") {
		if instruction := str(step, "instruction"); instruction != "" {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, instruction))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) routeTransit(ctx context.Context, origin, destination, originCoord, destCoord, city string) (string, error) {
	data, err := c.get(ctx, "direction/transit/integrated", url.Values{
		"origin":      {originCoord},
		"destination": {destCoord},
		"city":        {city},
		"strategy":    {"0"},
	})
	if err != nil {
		return "", err
	}
	transits := list(sub(data, "route"), "transits")
	if len(transits) == 0 {
		return "", fmt.Errorf("无法规划公交路线")
	}
	transit := transits[0]

	lines := []string{
		fmt.Sprintf("🚌 从\"%s\"乘公交到\"%s\"", placeName(origin, "起点"), placeName(destination, "终点")),
		fmt.Sprintf("预计: %s | 步行: %s",
			formatDuration(str(transit, "duration")), formatDistance(str(transit, "walking_distance"))),
	}
	if cost := cleanField(str(transit, "cost")); cost != "" {
		lines = append(lines, "💰 费用: ¥"+cost)
	}
	lines = append(lines, "", "路线：")

	stepNum := 1
	for _, seg := range list(transit, "segments") {
		if walking := sub(seg, "walking"); walking != nil {
			var instructions []string
			for _, ws := range list(walking, "steps") {
				if inst := str(ws, "instruction"); inst != "" {
					instructions = append(instructions, inst)
				}
			}
			if len(instructions) > 0 {
				suffix := ""
				if dist := str(walking, "distance"); dist != "" && dist != "0" {
					suffix = fmt.Sprintf("（%s）", formatDistance(dist))
				}
				lines = append(lines, fmt.Sprintf("%d. 🚶 %s%s", stepNum, strings.Join(instructions, "；"), suffix))
				stepNum++
			}
		}
		if bus := sub(seg, "bus"); bus != nil {
			for _, bl := range list(bus, "buslines") {
				lines = append(lines, transitLeg(stepNum, "🚌", bl))
				stepNum++
			}
		}
		if railway := sub(seg, "railway"); railway != nil && str(railway, "name") != "" {
			lines = append(lines, transitLeg(stepNum, "🚄", railway))
			stepNum++
		}
	}
	return strings.Join(lines, "\n"), nil
}

func transitLeg(stepNum int, icon string, line map[string]any) string {
	name := str(line, "name")
	departure := str(sub(line, "departure_stop"), "name")
	arrival := str(sub(line, "arrival_stop"), "name")
	viaText := ""
	if via := str(line, "via_num"); via != "" {
		viaText = fmt.Sprintf("，%s站", via)
	}
	if departure != "" && arrival != "" {
		return fmt.Sprintf("%d. %s 乘坐%s，从%s到%s%s", stepNum, icon, name, departure, arrival, viaText)
	}
	return fmt.Sprintf("%d. %s 乘坐%s%s", stepNum, icon, name, viaText)
}

func joinPOIs(pois []map[string]any, showDistance bool) string {
	parts := make([]string, 0, len(pois))
	for i, poi := range pois {
		parts = append(parts, formatPOI(poi, i+1, showDistance))
	}
	return strings.Join(parts, "\n\n")
}

func formatPOI(poi map[string]any, index int, showDistance bool) string {
	name := str(poi, "name")
	if name == "" {
		name = "未知"
	}
	lines := []string{fmt.Sprintf("%d. %s（%s）", index, name, str(poi, "type"))}

	if showDistance {
		if distance := str(poi, "distance"); distance != "" {
			lines = append(lines, fmt.Sprintf("   📏 距离: %s米", distance))
		}
	}
	if address := cleanField(str(poi, "address")); address != "" {
		lines = append(lines, "   📮 地址: "+address)
	}

	biz := sub(poi, "biz_ext")
	if rating := cleanField(str(biz, "rating")); rating != "" {
		lines = append(lines, "   ⭐ 评分: "+rating)
	}
	if cost := cleanField(str(biz, "cost")); cost != "" {
		lines = append(lines, "   💰 人均: ¥"+cost)
	}
	if open := cleanField(str(biz, "open_time")); open != "" {
		lines = append(lines, "   🕐 营业: "+open)
	}
	if tel := cleanField(str(poi, "tel")); tel != "" {
		lines = append(lines, "   📞 电话: "+tel)
	}
	if coord := str(poi, "location"); coord != "" {
		lines = append(lines, "   📍 坐标: "+coord)
	}
	return strings.Join(lines, "\n")
}

func placeName(input, fallback string) string {
	if IsCoordinate(input) {
		return fallback
	}
	return input
}

func formatDistance(meters string) string {
	m, err := strconv.Atoi(meters)
	if err != nil {
		return meters + "米"
	}
	if m < 1000 {
		return fmt.Sprintf("%d米", m)
	}
	return fmt.Sprintf("%.1f公里", float64(m)/1000)
}

func formatDuration(seconds string) string {
	s, err := strconv.Atoi(seconds)
	if err != nil {
		return seconds + "秒"
	}
	if s < 60 {
		return fmt.Sprintf("%d秒", s)
	}
	minutes := (s + 30) / 60
	if minutes < 60 {
		return fmt.Sprintf("约%d分钟", minutes)
	}
	hours := minutes / 60
	remain := minutes % 60
	if remain == 0 {
		return fmt.Sprintf("约%d小时", hours)
	}
	return fmt.Sprintf("约%d小时%d分钟", hours, remain)
}

// cleanField drops the placeholder values the upstream API uses for
// missing data.
func cleanField(value string) string {
	if value == "" || value == "[]" {
		return ""
	}
	return value
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func sub(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func list(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if item, ok := r.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}
