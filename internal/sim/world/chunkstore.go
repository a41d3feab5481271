package world

type ChunkKey struct {
	CX int
	CZ int
}

type Chunk struct {
	CX, CZ int
	minY   int
	height int
	Blocks []uint16 // len = 16*16*height, palette ids
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return x + z*16 + (y-c.minY)*256
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	c.Blocks[c.index(x, y, z)] = b
}

type Palette struct {
	names []string
	index map[string]uint16
}

func NewPalette() *Palette {
	return &Palette{index: map[string]uint16{}}
}

func (p *Palette) ID(name string) uint16 {
	if id, ok := p.index[name]; ok {
		return id
	}
	id := uint16(len(p.names))
	p.names = append(p.names, name)
	p.index[name] = id
	return id
}

func (p *Palette) Name(id uint16) string {
	if int(id) >= len(p.names) {
		return Air
	}
	return p.names[id]
}

type GridConfig struct {
	MinY      int
	MaxY      int // exclusive
	GroundY   int
	BoundaryR int // blocks; 0 = unbounded

	Spawn       Vec3i
	SpawnRadius int
}

// Grid is a chunked in-memory block store with a flat generator. Blocks
// outside the boundary read as BARRIER and ignore writes.
type Grid struct {
	cfg    GridConfig
	pal    *Palette
	chunks map[ChunkKey]*Chunk

	// Extra state (facing, chest half, sign text) for non-plain blocks.
	states map[Vec3i]BlockState

	air, bedrock, stone, dirt, grass uint16
}

func NewGrid(cfg GridConfig) *Grid {
	if cfg.MaxY <= cfg.MinY {
		cfg.MaxY = cfg.MinY + 1
	}
	pal := NewPalette()
	g := &Grid{
		cfg:    cfg,
		pal:    pal,
		chunks: map[ChunkKey]*Chunk{},
		states: map[Vec3i]BlockState{},
	}
	g.air = pal.ID(Air)
	g.bedrock = pal.ID(Bedrock)
	g.stone = pal.ID(Stone)
	g.dirt = pal.ID(Dirt)
	g.grass = pal.ID(Grass)
	return g
}

func (g *Grid) MinY() int        { return g.cfg.MinY }
func (g *Grid) MaxY() int        { return g.cfg.MaxY }
func (g *Grid) Spawn() Vec3i     { return g.cfg.Spawn }
func (g *Grid) SpawnRadius() int { return g.cfg.SpawnRadius }

func (g *Grid) InBounds(pos Vec3i) bool {
	if pos.Y < g.cfg.MinY || pos.Y >= g.cfg.MaxY {
		return false
	}
	if r := g.cfg.BoundaryR; r > 0 {
		if pos.X < -r || pos.X > r || pos.Z < -r || pos.Z > r {
			return false
		}
	}
	return true
}

func (g *Grid) Block(pos Vec3i) BlockState {
	if !g.InBounds(pos) {
		if pos.Y >= g.cfg.MaxY && g.boundaryOK(pos) {
			return BlockState{Type: Air}
		}
		return BlockState{Type: Barrier}
	}
	if st, ok := g.states[pos]; ok {
		return st
	}
	ch := g.chunkFor(pos)
	return BlockState{Type: g.pal.Name(ch.Get(floorMod(pos.X, 16), pos.Y, floorMod(pos.Z, 16)))}
}

func (g *Grid) SetBlock(pos Vec3i, st BlockState) {
	if !g.InBounds(pos) {
		return
	}
	if st.Type == "" {
		st.Type = Air
	}
	ch := g.chunkFor(pos)
	ch.Set(floorMod(pos.X, 16), pos.Y, floorMod(pos.Z, 16), g.pal.ID(st.Type))
	if st.plain() {
		delete(g.states, pos)
		return
	}
	st.Lines = append([]string(nil), st.Lines...)
	g.states[pos] = st
}

// Fill sets every block in the inclusive box spanned by a and b.
func (g *Grid) Fill(a, b Vec3i, typ string) {
	lo := Vec3i{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := Vec3i{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				g.SetBlock(Vec3i{X: x, Y: y, Z: z}, BlockState{Type: typ})
			}
		}
	}
}

func (g *Grid) boundaryOK(pos Vec3i) bool {
	r := g.cfg.BoundaryR
	return r <= 0 || (pos.X >= -r && pos.X <= r && pos.Z >= -r && pos.Z <= r)
}

func (g *Grid) chunkFor(pos Vec3i) *Chunk {
	k := ChunkKey{CX: floorDiv(pos.X, 16), CZ: floorDiv(pos.Z, 16)}
	if ch, ok := g.chunks[k]; ok {
		return ch
	}
	ch := g.generate(k)
	g.chunks[k] = ch
	return ch
}

func (g *Grid) generate(k ChunkKey) *Chunk {
	height := g.cfg.MaxY - g.cfg.MinY
	ch := &Chunk{
		CX:     k.CX,
		CZ:     k.CZ,
		minY:   g.cfg.MinY,
		height: height,
		Blocks: make([]uint16, 16*16*height),
	}
	ground := g.cfg.GroundY
	for y := g.cfg.MinY; y < g.cfg.MaxY; y++ {
		var b uint16
		switch {
		case y == g.cfg.MinY:
			b = g.bedrock
		case y < ground-3:
			b = g.stone
		case y < ground:
			b = g.dirt
		case y == ground:
			b = g.grass
		default:
			b = g.air
		}
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				ch.Set(x, y, z, b)
			}
		}
	}
	return ch
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
